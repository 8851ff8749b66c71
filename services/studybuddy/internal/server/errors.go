package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"studybuddy/pkg/auth"
	"studybuddy/services/studybuddy/internal/app"
)

type errorClass struct {
	status int
	// expose sends the full wrapped message instead of the sentinel text.
	expose bool
}

var errorClasses = []struct {
	errs  []error
	class errorClass
}{
	{[]error{app.ErrInvalidCredentials, app.ErrUnauthorized, app.ErrInvalidRefreshToken}, errorClass{http.StatusUnauthorized, false}},
	{[]error{app.ErrForbidden}, errorClass{http.StatusForbidden, false}},
	{[]error{app.ErrUserNotFound, app.ErrDocumentNotFound, app.ErrChatNotFound, app.ErrQuizNotFound}, errorClass{http.StatusNotFound, false}},
	{[]error{app.ErrEmailAlreadyExists, app.ErrDocumentNotAnalyzed}, errorClass{http.StatusConflict, false}},
	{[]error{
		app.ErrEmailAndPasswordRequired, app.ErrEmailRequired, app.ErrInvalidEmail,
		app.ErrCurrentPasswordRequired, app.ErrNewPasswordRequired, app.ErrPasswordUnchanged,
		app.ErrRefreshTokenRequired, auth.ErrPasswordTooShort, auth.ErrPasswordTooLong, auth.ErrPasswordWeak,
		app.ErrNoFiles, app.ErrInvalidQuizOptions, app.ErrInvalidQuizAnswers,
		app.ErrMessageRequired, app.ErrMessageTooLong, app.ErrTitleRequired,
		app.ErrInvalidProfile, app.ErrInvalidExport,
	}, errorClass{http.StatusBadRequest, true}},
	{[]error{app.ErrFileTooLarge}, errorClass{http.StatusRequestEntityTooLarge, true}},
	{[]error{app.ErrEmptyFile, app.ErrUnsupportedFileType, app.ErrExtractionFailed, app.ErrNoTextExtracted}, errorClass{http.StatusUnprocessableEntity, true}},
	{[]error{app.ErrAnalysisFailed, app.ErrMalformedQuiz, app.ErrVideoSearchFailed, app.ErrStorageFailed}, errorClass{http.StatusBadGateway, false}},
	{[]error{app.ErrVideosUnavailable}, errorClass{http.StatusServiceUnavailable, false}},
}

// errorStatus maps an application error to a status code and the message
// shown to the client. Upstream and store failures only show the sentinel
// text so provider details stay in the logs.
func errorStatus(err error) (int, string) {
	if errors.Is(err, app.ErrUserDisabled) {
		return http.StatusUnauthorized, app.ErrInvalidCredentials.Error()
	}
	for _, group := range errorClasses {
		for _, target := range group.errs {
			if !errors.Is(err, target) {
				continue
			}
			if group.class.expose {
				return group.class.status, err.Error()
			}
			return group.class.status, target.Error()
		}
	}
	return http.StatusInternalServerError, "internal server error"
}

func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := errorStatus(err)
	if status >= http.StatusInternalServerError {
		logger(r).Error("request failed", "status", status, "err", err)
	} else {
		logger(r).Debug("request rejected", "status", status, "err", err)
	}
	writeError(w, status, msg)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateRequest checks the validate tags of a decoded request body and
// writes a 400 describing the first failing field.
func validateRequest(w http.ResponseWriter, req any) bool {
	err := validate.Struct(req)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		writeError(w, http.StatusBadRequest, "invalid request")
		return false
	}
	writeError(w, http.StatusBadRequest, fieldMessage(verrs[0]))
	return false
}

func fieldMessage(fe validator.FieldError) string {
	field := jsonName(fe.StructField())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return field + " must be a valid email address"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gte", "lte":
		return fmt.Sprintf("%s is out of range", field)
	}
	return field + " is invalid"
}

func jsonName(structField string) string {
	if structField == "" {
		return "field"
	}
	return strings.ToLower(structField[:1]) + structField[1:]
}
