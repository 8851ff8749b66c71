package app

import "errors"

var (
	// ErrInvalidCredentials is shown to end users as is; it must not reveal
	// whether the email exists.
	ErrInvalidCredentials = errors.New("incorrect email address or password")

	// ErrUserDisabled should not be exposed to clients.
	ErrUserDisabled = errors.New("user disabled")

	ErrEmailAndPasswordRequired = errors.New("email and password required")
	ErrEmailAlreadyExists       = errors.New("email already exists")
	ErrEmailRequired            = errors.New("email required")
	ErrInvalidEmail             = errors.New("invalid email address")
	ErrCurrentPasswordRequired  = errors.New("current password required")
	ErrNewPasswordRequired      = errors.New("new password required")
	ErrPasswordUnchanged        = errors.New("new password must differ from current password")

	ErrRefreshTokenRequired = errors.New("refresh token required")
	ErrInvalidRefreshToken  = errors.New("invalid refresh token")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrUserNotFound         = errors.New("user not found")

	ErrForbidden        = errors.New("forbidden")
	ErrDocumentNotFound = errors.New("document not found")
	ErrChatNotFound     = errors.New("chat not found")

	ErrNoFiles             = errors.New("at least one file is required")
	ErrEmptyFile           = errors.New("file is empty")
	ErrFileTooLarge        = errors.New("file is too large")
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrExtractionFailed    = errors.New("could not extract text from file")
	ErrNoTextExtracted     = errors.New("no text found in file")
	ErrStorageFailed       = errors.New("file storage unavailable")

	ErrAnalysisFailed      = errors.New("analysis service unavailable")
	ErrDocumentNotAnalyzed = errors.New("document analysis is not complete")
	ErrQuizNotFound        = errors.New("quiz not generated yet")
	ErrInvalidQuizOptions  = errors.New("invalid quiz options")
	ErrInvalidQuizAnswers  = errors.New("answers do not match quiz questions")
	ErrMalformedQuiz       = errors.New("model returned a malformed quiz")

	ErrMessageRequired   = errors.New("message required")
	ErrMessageTooLong    = errors.New("message too long")
	ErrTitleRequired     = errors.New("title required")
	ErrInvalidProfile    = errors.New("invalid profile")
	ErrVideosUnavailable = errors.New("video suggestions are not configured")
	ErrVideoSearchFailed = errors.New("video search unavailable")
	ErrInvalidExport     = errors.New("unsupported export format")
)
