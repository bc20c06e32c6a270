package evidence

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"loan-orchestrator/internal/common/errors"
	"loan-orchestrator/internal/common/logger"
	"loan-orchestrator/internal/models"
)

type MockObjectAPI struct {
	mock.Mock
}

func (m *MockObjectAPI) PutObject(ctx context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.PutObjectOutput), args.Error(1)
}

func (m *MockObjectAPI) GetObject(ctx context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.GetObjectOutput), args.Error(1)
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n0000")

func TestS3Store_Put(t *testing.T) {
	api := new(MockObjectAPI)
	api.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return *in.Bucket == "loan-evidence" &&
			strings.HasPrefix(*in.Key, "applications/app-1/selfie/") &&
			*in.ContentType == "image/png" &&
			*in.ContentLength == int64(len(pngHeader)) &&
			in.Metadata["application-id"] == "app-1"
	})).Return(&s3.PutObjectOutput{}, nil).Once()

	store := NewS3Store(api, "loan-evidence", "applications", logger.NewTestLogger(t))
	key, err := store.Put(context.Background(), "app-1", models.EvidenceSelfie, pngHeader)

	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "applications/app-1/selfie/"))
	api.AssertExpectations(t)
}

func TestS3Store_PutFailure(t *testing.T) {
	api := new(MockObjectAPI)
	api.On("PutObject", mock.Anything, mock.Anything).Return(nil, stderrors.New("access denied"))

	store := NewS3Store(api, "b", "", logger.NewNoOpLogger())
	_, err := store.Put(context.Background(), "app-1", models.EvidenceDocument, []byte("doc"))
	assert.True(t, errors.IsCode(err, errors.ErrCodeStorageFailed))
}

func TestS3Store_Get(t *testing.T) {
	api := new(MockObjectAPI)
	api.On("GetObject", mock.Anything, mock.MatchedBy(func(in *s3.GetObjectInput) bool {
		return *in.Key == "k"
	})).Return(&s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader([]byte("image")))}, nil)

	data, err := NewS3Store(api, "b", "", logger.NewNoOpLogger()).Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("image"), data)
}

func TestStores_RejectBadSizes(t *testing.T) {
	api := new(MockObjectAPI)
	stores := map[string]Store{
		"s3":     NewS3Store(api, "b", "", logger.NewNoOpLogger()),
		"memory": NewMemoryStore(),
	}
	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			_, err := s.Put(context.Background(), "a", models.EvidenceDocument, nil)
			assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))
			_, err = s.Put(context.Background(), "a", models.EvidenceDocument, make([]byte, MaxImageBytes+1))
			assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))
		})
	}
	api.AssertNotCalled(t, "PutObject", mock.Anything, mock.Anything)
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	m := NewMemoryStore()
	key, err := m.Put(context.Background(), "app-9", models.EvidenceIDCard, []byte("card"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "app-9/id-card/"))

	data, err := m.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, []byte("card"), data)

	_, err = m.Get(context.Background(), "nope")
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
}

func TestDecodeImage(t *testing.T) {
	data, err := DecodeImage("data:image/png;base64,aGVsbG8=")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	data, err = DecodeImage("  aGVsbG8=\n")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	for _, raw := range []string{"", "%%%", "data:image/png;base64"} {
		_, err := DecodeImage(raw)
		assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput), "input %q", raw)
	}
}
