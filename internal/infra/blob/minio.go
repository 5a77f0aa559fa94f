package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"remont-lead-bot/internal/domain"
	"remont-lead-bot/internal/infra/metrics"
)

// MinioStore хранит вложения и сгенерированные изображения в MinIO/S3.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore подключается к MinIO и создаёт бакет при необходимости.
func NewMinioStore(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &MinioStore{client: client, bucket: bucket}, nil
}

// Put загружает объект.
func (m *MinioStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	start := time.Now()
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{ContentType: contentType})
	metrics.ObserveNetworkRequest("minio", "put_object", m.bucket, start, err)
	if err != nil {
		return domain.Transient("minio: put object", err)
	}
	return nil
}

// Get читает объект целиком.
func (m *MinioStore) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		metrics.ObserveNetworkRequest("minio", "get_object", m.bucket, start, err)
		return nil, domain.Transient("minio: get object", err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	metrics.ObserveNetworkRequest("minio", "get_object", m.bucket, start, err)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, key)
		}
		return nil, domain.Transient("minio: read object", err)
	}
	return data, nil
}

// PresignGet выдаёт временную ссылку на объект.
func (m *MinioStore) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	url, err := m.client.PresignedGetObject(ctx, m.bucket, key, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return url.String(), nil
}
