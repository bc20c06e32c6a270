// Package evidence keeps the images uploaded during verification.
package evidence

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"loan-orchestrator/internal/common/errors"
	"loan-orchestrator/internal/common/logger"
	"loan-orchestrator/internal/models"
)

// MaxImageBytes bounds a single upload.
const MaxImageBytes = 10 << 20

type Store interface {
	Put(ctx context.Context, appID string, kind models.EvidenceKind, data []byte) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// ObjectAPI is the subset of the S3 client used here.
type ObjectAPI interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

func objectKey(prefix, appID string, kind models.EvidenceKind) string {
	return path.Join(prefix, appID, string(kind), uuid.NewString())
}

func checkSize(data []byte) error {
	if len(data) == 0 {
		return errors.NewInvalidInputError("evidence image is empty")
	}
	if len(data) > MaxImageBytes {
		return errors.NewInvalidInputError(fmt.Sprintf("evidence image exceeds %d bytes", MaxImageBytes))
	}
	return nil
}

// DecodeImage accepts raw base64 or a data URL and returns the image bytes.
func DecodeImage(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "data:") {
		_, payload, ok := strings.Cut(raw, ",")
		if !ok {
			return nil, errors.NewInvalidInputError("malformed data URL")
		}
		raw = payload
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, errors.NewInvalidInputError("image is not valid base64")
	}
	if err := checkSize(data); err != nil {
		return nil, err
	}
	return data, nil
}

// ==========================
// S3
// ==========================

type S3Store struct {
	api    ObjectAPI
	bucket string
	prefix string
	logger logger.Logger
}

func NewS3Store(api ObjectAPI, bucket, prefix string, log logger.Logger) *S3Store {
	return &S3Store{
		api:    api,
		bucket: bucket,
		prefix: prefix,
		logger: log.WithFields(map[string]interface{}{"component": "evidence", "bucket": bucket}),
	}
}

func (s *S3Store) Put(ctx context.Context, appID string, kind models.EvidenceKind, data []byte) (string, error) {
	if err := checkSize(data); err != nil {
		return "", err
	}
	key := objectKey(s.prefix, appID, kind)
	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        awssdk.String(s.bucket),
		Key:           awssdk.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: awssdk.Int64(int64(len(data))),
		ContentType:   awssdk.String(http.DetectContentType(data)),
		Metadata: map[string]string{
			"application-id": appID,
			"kind":           string(kind),
		},
	})
	if err != nil {
		s.logger.Error("Failed to upload evidence", map[string]interface{}{
			"applicationId": appID,
			"kind":          string(kind),
			"error":         err.Error(),
		})
		return "", errors.NewStorageFailedError("put "+key, err)
	}
	s.logger.Debug("Evidence stored", map[string]interface{}{"key": key, "size": len(data)})
	return key, nil
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: awssdk.String(s.bucket),
		Key:    awssdk.String(key),
	})
	if err != nil {
		return nil, errors.NewStorageFailedError("get "+key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, MaxImageBytes+1))
	if err != nil {
		return nil, errors.NewStorageFailedError("read "+key, err)
	}
	return data, nil
}

// ==========================
// Memory
// ==========================

// MemoryStore is used when S3 is disabled.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (m *MemoryStore) Put(_ context.Context, appID string, kind models.EvidenceKind, data []byte) (string, error) {
	if err := checkSize(data); err != nil {
		return "", err
	}
	key := objectKey("", appID, kind)
	m.mu.Lock()
	m.objects[key] = append([]byte(nil), data...)
	m.mu.Unlock()
	return key, nil
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, errors.NewNotFoundError("evidence", key)
	}
	return append([]byte(nil), data...), nil
}
