package minio

import (
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"
	mclient "github.com/minio/minio-go/v7"
	"github.com/pribylovaa/biocraft-studio/internal/models"
	"github.com/pribylovaa/biocraft-studio/internal/storage"
)

const (
	avatarsPrefix = "avatars"
	uploadsPrefix = "uploads"
)

// AvatarUploadURL генерирует presigned PUT URL для аватара.
// Ключ имеет вид "avatars/<userID>/<uuid><ext>"; RequiredHeader клиент
// обязан передать при PUT.
func (s *FilesStorage) AvatarUploadURL(ctx context.Context, userID uuid.UUID, contentType string, size int64) (*models.UploadInfo, error) {
	const op = "storage.minio.AvatarUploadURL"

	if size <= 0 || size > s.upload.AvatarMaxBytes {
		return nil, storage.ErrInvalidArgument
	}

	if !slices.Contains(s.upload.AvatarContentTypes, contentType) {
		return nil, storage.ErrInvalidArgument
	}

	key := path.Join(avatarsPrefix, userID.String(), uuid.NewString()+imageExt(contentType))

	u, err := s.client.PresignedPutObject(ctx, s.s3.Bucket, key, s.s3.PresignTTL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &models.UploadInfo{
		UploadURL: u.String(),
		Key:       key,
		Expires:   s.s3.PresignTTL,
		ExpiresIn: int64(s.s3.PresignTTL.Seconds()),
		RequiredHeader: map[string]string{
			"Content-Type":   contentType,
			"Content-Length": strconv.FormatInt(size, 10),
		},
	}, nil
}

// CheckAvatarUpload подтверждает загрузку: объект существует, лежит под
// префиксом владельца и укладывается в ограничения размера и типа.
// Возвращает публичный URL, если задан PublicBaseURL, иначе — ключ.
func (s *FilesStorage) CheckAvatarUpload(ctx context.Context, userID uuid.UUID, key string) (string, error) {
	const op = "storage.minio.CheckAvatarUpload"

	prefix := avatarsPrefix + "/" + userID.String() + "/"
	if !strings.HasPrefix(key, prefix) || strings.Contains(key, "..") {
		return "", storage.ErrInvalidArgument
	}

	info, err := s.client.StatObject(ctx, s.s3.Bucket, key, mclient.StatObjectOptions{})
	if err != nil {
		resp := mclient.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.StatusCode == 404 {
			return "", fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return "", fmt.Errorf("%s: %w", op, err)
	}

	if info.Size <= 0 || info.Size > s.upload.AvatarMaxBytes {
		return "", storage.ErrInvalidArgument
	}

	if ct := info.ContentType; ct != "" && !slices.Contains(s.upload.AvatarContentTypes, ct) {
		return "", storage.ErrInvalidArgument
	}

	return s.publicURL(key), nil
}

// PutUpload сохраняет файл под "uploads/<userID>/<uuid><ext>".
// Расширение проверяется по allow-list, размер — по UploadConfig.MaxBytes.
func (s *FilesStorage) PutUpload(ctx context.Context, userID uuid.UUID, name, contentType string, size int64, body io.Reader) (*models.UploadedFile, error) {
	const op = "storage.minio.PutUpload"

	ext := strings.ToLower(filepath.Ext(name))
	if !AllowedExt(s.upload.AllowedExt, ext) {
		return nil, storage.ErrInvalidArgument
	}

	if size <= 0 || size > s.upload.MaxBytes {
		return nil, storage.ErrInvalidArgument
	}

	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key := path.Join(uploadsPrefix, userID.String(), uuid.NewString()+ext)

	_, err := s.client.PutObject(ctx, s.s3.Bucket, key, body, size, mclient.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: map[string]string{"original-name": path.Base(filepath.ToSlash(name))},
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &models.UploadedFile{
		Key:          key,
		OriginalName: name,
		Size:         size,
		ContentType:  contentType,
		URL:          s.publicURL(key),
	}, nil
}

// AllowedExt проверяет расширение (с точкой, в нижнем регистре) по allow-list.
func AllowedExt(allow []string, ext string) bool {
	if ext == "" {
		return false
	}

	for _, a := range allow {
		if strings.EqualFold(strings.TrimSpace(a), ext) {
			return true
		}
	}

	return false
}

func (s *FilesStorage) publicURL(key string) string {
	if s.s3.PublicBaseURL == "" {
		return key
	}

	return strings.TrimRight(s.s3.PublicBaseURL, "/") + "/" + key
}

func imageExt(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ""
	}
}
