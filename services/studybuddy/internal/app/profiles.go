package app

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"studybuddy/internal/util"
	"studybuddy/pkg/domain"
)

const (
	maxUsernameRunes = 50
	maxFullNameRunes = 100
	maxBioRunes      = 500
)

// ProfileUpdate carries the editable profile fields. Nil leaves a field
// unchanged.
type ProfileUpdate struct {
	Username *string
	FullName *string
	Bio      *string
}

// GetProfile returns the caller's profile, creating an empty one on first
// access.
func (a *App) GetProfile(user domain.User) (domain.Profile, error) {
	p, ok, err := a.store.GetProfile(user.ID)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("load profile: %w", err)
	}
	if ok {
		return p, nil
	}
	now := a.now()
	p = domain.Profile{UserID: user.ID, CreatedAt: now, UpdatedAt: now}
	if err := a.store.SaveProfile(p); err != nil {
		return domain.Profile{}, fmt.Errorf("create profile: %w", err)
	}
	return p, nil
}

// UpdateProfile applies the given fields after checking their lengths.
func (a *App) UpdateProfile(user domain.User, upd ProfileUpdate) (domain.Profile, error) {
	p, err := a.GetProfile(user)
	if err != nil {
		return domain.Profile{}, err
	}
	if upd.Username != nil {
		v := strings.TrimSpace(*upd.Username)
		if utf8.RuneCountInString(v) > maxUsernameRunes {
			return domain.Profile{}, fmt.Errorf("%w: username is limited to %d characters", ErrInvalidProfile, maxUsernameRunes)
		}
		p.Username = v
	}
	if upd.FullName != nil {
		v := strings.TrimSpace(*upd.FullName)
		if utf8.RuneCountInString(v) > maxFullNameRunes {
			return domain.Profile{}, fmt.Errorf("%w: full name is limited to %d characters", ErrInvalidProfile, maxFullNameRunes)
		}
		p.FullName = v
	}
	if upd.Bio != nil {
		v := strings.TrimSpace(*upd.Bio)
		if utf8.RuneCountInString(v) > maxBioRunes {
			return domain.Profile{}, fmt.Errorf("%w: bio is limited to %d characters", ErrInvalidProfile, maxBioRunes)
		}
		p.Bio = v
	}
	p.UpdatedAt = a.now()
	if err := a.store.SaveProfile(p); err != nil {
		return domain.Profile{}, fmt.Errorf("save profile: %w", err)
	}
	return p, nil
}

// UploadAvatar stores an image and points the profile at it.
func (a *App) UploadAvatar(ctx context.Context, user domain.User, up Upload) (domain.Profile, error) {
	if len(up.Data) == 0 {
		return domain.Profile{}, ErrEmptyFile
	}
	if int64(len(up.Data)) > a.maxImageBytes {
		return domain.Profile{}, ErrFileTooLarge
	}
	filename := filepath.Base(strings.TrimSpace(up.Filename))
	docType, contentType, err := classify(filename, up.ContentType, up.Data)
	if err != nil {
		return domain.Profile{}, err
	}
	if docType != domain.DocumentImage {
		return domain.Profile{}, fmt.Errorf("%w: avatars must be images", ErrUnsupportedFileType)
	}
	p, err := a.GetProfile(user)
	if err != nil {
		return domain.Profile{}, err
	}

	key := avatarKey(user.ID, util.NewID(), filename)
	if err := a.objects.Put(ctx, key, bytes.NewReader(up.Data), int64(len(up.Data)), contentType); err != nil {
		return domain.Profile{}, fmt.Errorf("%w: %v", ErrStorageFailed, err)
	}
	u, err := a.objects.URL(ctx, key)
	if err != nil {
		a.deleteObject(ctx, key)
		return domain.Profile{}, fmt.Errorf("%w: %v", ErrStorageFailed, err)
	}
	p.AvatarURL = u
	p.UpdatedAt = a.now()
	if err := a.store.SaveProfile(p); err != nil {
		a.deleteObject(ctx, key)
		return domain.Profile{}, fmt.Errorf("save profile: %w", err)
	}
	return p, nil
}
