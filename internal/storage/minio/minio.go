// minio предоставляет реализацию storage.FileStorage на базе MinIO/S3.
// minio.go — конструктор клиента: нормализует endpoint, настраивает
// Secure и creds, проверяет наличие бакета.
// files.go — presigned PUT для аватаров и серверная загрузка файлов.
package minio

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	mclient "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pribylovaa/biocraft-studio/internal/config"
	"github.com/pribylovaa/biocraft-studio/internal/storage"
)

// FilesStorage — адаптер MinIO для аватаров и загружаемых файлов.
type FilesStorage struct {
	s3     config.S3Config
	upload config.UploadConfig
	client *mclient.Client
}

// New создаёт клиент MinIO и выполняет fail-fast-проверку бакета.
// Схема в endpoint определяет Secure; без схемы используется S3Config.UseSSL.
func New(ctx context.Context, s3 config.S3Config, upload config.UploadConfig) (*FilesStorage, error) {
	const op = "storage.minio.New"

	endpoint := s3.Endpoint
	secure := s3.UseSSL

	if u, err := url.Parse(endpoint); err == nil && u.Scheme != "" && u.Host != "" {
		endpoint = u.Host
		secure = u.Scheme == "https"
	}
	endpoint = strings.TrimRight(endpoint, "/")

	client, err := mclient.New(endpoint, &mclient.Options{
		Creds:  credentials.NewStaticV4(s3.AccessKey, s3.SecretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	exists, err := client.BucketExists(ctx, s3.Bucket)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !exists {
		return nil, fmt.Errorf("%s: bucket %q does not exist", op, s3.Bucket)
	}

	return &FilesStorage{s3: s3, upload: upload, client: client}, nil
}

var _ storage.FileStorage = (*FilesStorage)(nil)
