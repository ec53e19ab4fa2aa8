package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/facturaIA/invoice-insight/internal/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var ErrNoStorage = errors.New("document storage not configured")

// Archive keeps the original uploaded documents
type Archive interface {
	UploadDocument(ctx context.Context, tenant, filename string, reader io.Reader, size int64, contentType string) (string, error)
	GetPresignedURL(ctx context.Context, objectPath string) (string, error)
	DeleteDocument(ctx context.Context, objectPath string) error
}

// MinioArchive stores documents in a MinIO/S3 bucket
type MinioArchive struct {
	client *minio.Client
	bucket string
	now    func() time.Time
}

// NewMinioArchive connects and verifies that the bucket exists
func NewMinioArchive(ctx context.Context, cfg config.StorageConfig) (*MinioArchive, error) {
	if cfg.Endpoint == "" {
		return nil, ErrNoStorage
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %s does not exist", cfg.Bucket)
	}

	return &MinioArchive{client: client, bucket: cfg.Bucket, now: time.Now}, nil
}

// UploadDocument stores a document under {tenant}/YYYY/MM/{filename} and
// returns the bucket-qualified path kept with the invoice.
func (a *MinioArchive) UploadDocument(ctx context.Context, tenant, filename string, reader io.Reader, size int64, contentType string) (string, error) {
	objectName := ObjectName(tenant, filename, a.now())

	_, err := a.client.PutObject(ctx, a.bucket, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload document: %w", err)
	}
	return a.bucket + "/" + objectName, nil
}

// GetPresignedURL generates a presigned URL for viewing a document
func (a *MinioArchive) GetPresignedURL(ctx context.Context, objectPath string) (string, error) {
	url, err := a.client.PresignedGetObject(ctx, a.bucket, stripBucket(a.bucket, objectPath), 24*time.Hour, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return url.String(), nil
}

// DeleteDocument removes a document from storage
func (a *MinioArchive) DeleteDocument(ctx context.Context, objectPath string) error {
	return a.client.RemoveObject(ctx, a.bucket, stripBucket(a.bucket, objectPath), minio.RemoveObjectOptions{})
}

// ObjectName builds the multi-tenant object key
func ObjectName(tenant, filename string, at time.Time) string {
	if tenant == "" {
		tenant = "public"
	}
	return fmt.Sprintf("%s/%d/%02d/%s", tenant, at.Year(), at.Month(), filename)
}

func stripBucket(bucket, objectPath string) string {
	return strings.TrimPrefix(objectPath, bucket+"/")
}

// GetFileExtension maps a content type to a file extension
func GetFileExtension(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/tiff":
		return ".tiff"
	case "application/pdf":
		return ".pdf"
	case "text/plain":
		return ".txt"
	default:
		return ".bin"
	}
}
