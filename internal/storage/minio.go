package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dharsanguruparan/VaultSign/internal/config"
)

// Minio stores originals and final PDFs in a single MinIO bucket.
type Minio struct {
	client *minio.Client
	bucket string
	region string
}

// NewMinio creates a MinIO client from the Config.
func NewMinio(cfg *config.Config) (*Minio, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Minio{client: client, bucket: cfg.S3Bucket, region: cfg.S3Region}, nil
}

// EnsureBucket makes sure the bucket exists before use.
func (s *Minio) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return external(fmt.Sprintf("check bucket %s", s.bucket), err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return external(fmt.Sprintf("make bucket %s", s.bucket), err)
		}
	}
	return nil
}

func (s *Minio) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	opts := minio.PutObjectOptions{ContentType: contentType}
	if _, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), opts); err != nil {
		return "", external("upload object", err)
	}
	return fmt.Sprintf("%s/%s/%s", s.client.EndpointURL(), s.bucket, key), nil
}

func (s *Minio) Download(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, external("get object", err)
	}
	defer obj.Close()
	buf, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, external("read object", ErrNotFound)
		}
		return nil, external("read object", err)
	}
	return buf, nil
}

func (s *Minio) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return external("remove object", err)
	}
	return nil
}

func (s *Minio) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, url.Values{})
	if err != nil {
		return "", external("presign object", err)
	}
	return u.String(), nil
}
