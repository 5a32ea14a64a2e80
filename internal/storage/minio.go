package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"speech-preroll/internal/audio"
	"speech-preroll/internal/config"
)

var ErrDisabled = errors.New("minio disabled")

// MinioClient archives delivered preroll clips. A disabled client is a valid
// value; every upload on it returns ErrDisabled.
type MinioClient struct {
	client  *minio.Client
	bucket  string
	prefix  string
	enabled bool
}

func NewMinio(cfg config.MinioConfig) (*MinioClient, error) {
	if !cfg.Enabled {
		return &MinioClient{enabled: false}, nil
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" || cfg.AccessKey == "" || cfg.SecretKey == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("minio config missing (endpoint, user, password, bucket)")
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}

	return &MinioClient{
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  cfg.Prefix,
		enabled: true,
	}, nil
}

func (m *MinioClient) Enabled() bool {
	return m != nil && m.enabled
}

func (m *MinioClient) Bucket() string {
	if m == nil {
		return ""
	}
	return m.bucket
}

// EnsureBucket creates the bucket if it does not exist yet.
func (m *MinioClient) EnsureBucket(ctx context.Context) error {
	if !m.Enabled() {
		return ErrDisabled
	}
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", m.bucket, err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", m.bucket, err)
	}
	return nil
}

func (m *MinioClient) UploadBytes(ctx context.Context, objectKey string, data []byte, contentType string) (string, int64, error) {
	if !m.Enabled() {
		return "", 0, ErrDisabled
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	reader := bytes.NewReader(data)
	info, err := m.client.PutObject(ctx, m.bucket, objectKey, reader, int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", 0, err
	}
	return info.ETag, info.Size, nil
}

// ArchiveClip stores pcm as a WAV object and returns its key.
func (m *MinioClient) ArchiveClip(ctx context.Context, captureID string, pcm []int16, sampleRate int, at time.Time) (string, error) {
	if !m.Enabled() {
		return "", ErrDisabled
	}
	key := ClipObjectKey(m.prefix, captureID, at)
	if _, _, err := m.UploadBytes(ctx, key, audio.EncodeWAV(pcm, sampleRate), "audio/wav"); err != nil {
		return "", fmt.Errorf("upload clip %s: %w", key, err)
	}
	return key, nil
}

// ClipObjectKey lays clips out by UTC day: prefix/2006/01/02/<id>.wav
func ClipObjectKey(prefix, captureID string, at time.Time) string {
	return SafeObjectKey(prefix, at.UTC().Format("2006/01/02"), captureID+".wav")
}

func SafeObjectKey(parts ...string) string {
	safeParts := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		part = strings.ReplaceAll(part, "\\", "/")
		part = strings.Trim(part, "/")
		part = strings.ReplaceAll(part, " ", "_")
		if part != "" {
			safeParts = append(safeParts, part)
		}
	}
	return strings.Join(safeParts, "/")
}
