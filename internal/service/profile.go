package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pribylovaa/biocraft-studio/internal/models"
	"github.com/pribylovaa/biocraft-studio/internal/pkg/log"
	"github.com/pribylovaa/biocraft-studio/internal/storage"
)

// maxProfileField — предельная длина текстовых полей профиля в рунах.
const maxProfileField = 200

// GetProfile возвращает профиль, создавая его при отсутствии.
func (s *Service) GetProfile(ctx context.Context, id models.Identity) (*models.Profile, error) {
	const op = "service.profile.GetProfile"

	lg := log.From(ctx).With(slog.String("op", op), slog.String("user_id", id.ID.String()))

	p, err := s.profiles.ProfileByUserID(ctx, id.ID)
	if err == nil {
		return p, nil
	}

	if !errors.Is(err, storage.ErrNotFound) {
		lg.Error("profile_lookup_failed", slog.String("err", err.Error()))
		return nil, wrapError(ErrInternal, MsgInternal, err)
	}

	p, err = s.profiles.CreateProfile(ctx, &models.Profile{UserID: id.ID, Email: id.Email})
	switch {
	case err == nil:
		lg.Info("profile_created_lazily")
		return p, nil
	case errors.Is(err, storage.ErrAlreadyExists):
		// создан параллельным запросом.
		p, err = s.profiles.ProfileByUserID(ctx, id.ID)
		if err == nil {
			return p, nil
		}
	}

	lg.Error("profile_create_failed", slog.String("err", err.Error()))
	return nil, wrapError(ErrInternal, MsgInternal, err)
}

// UpdateProfile частично обновляет профиль. Строки обрезаются по краям;
// пустое обновление возвращает текущий профиль без записи.
func (s *Service) UpdateProfile(ctx context.Context, id models.Identity, upd models.ProfileUpdate) (*models.Profile, error) {
	const op = "service.profile.UpdateProfile"

	for _, f := range []*string{upd.FullName, upd.Organization, upd.Role} {
		if f == nil {
			continue
		}

		*f = strings.TrimSpace(*f)
		if utf8.RuneCountInString(*f) > maxProfileField {
			return nil, newError(ErrValidation, MsgFieldTooLong)
		}
	}

	// картинка меняется только через ConfirmProfilePicture.
	upd.ProfilePicture = nil

	if upd.Empty() {
		return s.GetProfile(ctx, id)
	}

	p, err := s.profiles.UpdateProfile(ctx, id.ID, upd)
	if err == nil {
		return p, nil
	}

	if errors.Is(err, storage.ErrNotFound) {
		if _, gerr := s.GetProfile(ctx, id); gerr != nil {
			return nil, gerr
		}

		p, err = s.profiles.UpdateProfile(ctx, id.ID, upd)
		if err == nil {
			return p, nil
		}
	}

	log.From(ctx).Error("profile_update_failed",
		slog.String("op", op),
		slog.String("user_id", id.ID.String()),
		slog.String("err", err.Error()),
	)
	return nil, wrapError(ErrInternal, MsgInternal, err)
}

// ProfilePictureUploadURL выдаёт presigned PUT для аватара.
func (s *Service) ProfilePictureUploadURL(ctx context.Context, userID uuid.UUID, contentType string, size int64) (*models.UploadInfo, error) {
	const op = "service.profile.ProfilePictureUploadURL"

	if s.files == nil {
		return nil, newError(ErrUnavailable, MsgUploadsDisabled)
	}

	info, err := s.files.AvatarUploadURL(ctx, userID, contentType, size)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidArgument) {
			return nil, wrapError(ErrValidation, MsgInvalidPicture, err)
		}

		log.From(ctx).Error("avatar_presign_failed", slog.String("op", op), slog.String("err", err.Error()))
		return nil, wrapError(ErrInternal, MsgInternal, err)
	}

	return info, nil
}

// ConfirmProfilePicture проверяет загруженный объект и сохраняет его URL
// в профиле.
func (s *Service) ConfirmProfilePicture(ctx context.Context, id models.Identity, key string) (*models.Profile, error) {
	const op = "service.profile.ConfirmProfilePicture"

	if s.files == nil {
		return nil, newError(ErrUnavailable, MsgUploadsDisabled)
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return nil, newError(ErrValidation, MsgInvalidPicture)
	}

	lg := log.From(ctx).With(slog.String("op", op), slog.String("user_id", id.ID.String()))

	url, err := s.files.CheckAvatarUpload(ctx, id.ID, key)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrInvalidArgument), errors.Is(err, storage.ErrNotFound):
			return nil, wrapError(ErrValidation, MsgInvalidPicture, err)
		default:
			lg.Error("avatar_check_failed", slog.String("err", err.Error()))
			return nil, wrapError(ErrInternal, MsgInternal, err)
		}
	}

	if _, err := s.GetProfile(ctx, id); err != nil {
		return nil, err
	}

	p, err := s.profiles.UpdateProfile(ctx, id.ID, models.ProfileUpdate{ProfilePicture: &url})
	if err != nil {
		lg.Error("profile_picture_save_failed", slog.String("err", err.Error()))
		return nil, wrapError(ErrInternal, MsgInternal, err)
	}

	return p, nil
}

// Upload сохраняет файл исследовательских данных пользователя.
func (s *Service) Upload(ctx context.Context, userID uuid.UUID, name, contentType string, size int64, body io.Reader) (*models.UploadedFile, error) {
	const op = "service.profile.Upload"

	if s.files == nil {
		return nil, newError(ErrUnavailable, MsgUploadsDisabled)
	}

	if name == "" || body == nil || size <= 0 {
		return nil, newError(ErrValidation, MsgNoFile)
	}

	if !allowedExt(s.cfg.Upload.AllowedExt, filepath.Ext(name)) {
		return nil, newError(ErrValidation, MsgFileTypeNotAllowed)
	}

	if size > s.cfg.Upload.MaxBytes {
		return nil, newError(ErrValidation, MsgFileTooLarge)
	}

	f, err := s.files.PutUpload(ctx, userID, name, contentType, size, body)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidArgument) {
			return nil, wrapError(ErrValidation, MsgFileTypeNotAllowed, err)
		}

		log.From(ctx).Error("upload_failed",
			slog.String("op", op),
			slog.String("user_id", userID.String()),
			slog.String("err", err.Error()),
		)
		return nil, wrapError(ErrInternal, MsgInternal, err)
	}

	return f, nil
}

func allowedExt(allow []string, ext string) bool {
	ext = strings.ToLower(ext)
	if ext == "" {
		return false
	}

	for _, a := range allow {
		if strings.ToLower(strings.TrimSpace(a)) == ext {
			return true
		}
	}

	return false
}
