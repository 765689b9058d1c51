package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/checkinn/internal/apperror"
)

// =========================================================================
// FAKES
// =========================================================================

// fakeObjects is an in-memory bucket implementing objectAPI.
type fakeObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	getErr  error
	putErr  error
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: map[string][]byte{}}
}

func (f *fakeObjects) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeObjects) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeObjects) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func newTestStore(objects *fakeObjects, prefix string) *Store {
	return &Store{client: objects, bucket: "checkinn", prefix: prefix}
}

// =========================================================================
// BLOB STORE BEHAVIOUR
// =========================================================================

func TestStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	objects := newFakeObjects()
	s := newTestStore(objects, "dev/")

	require.NoError(t, s.Put(ctx, "stays:u_1", []byte(`[]`)))
	assert.Contains(t, objects.objects, "dev/stays:u_1")

	got, err := s.Get(ctx, "stays:u_1")
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(got))

	require.NoError(t, s.Delete(ctx, "stays:u_1"))
	_, err = s.Get(ctx, "stays:u_1")
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func TestStore_MissingKeyIsNotFound(t *testing.T) {
	s := newTestStore(newFakeObjects(), "")
	_, err := s.Get(context.Background(), "profiles")
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func TestStore_OtherErrorsAreWrapped(t *testing.T) {
	boom := errors.New("connection reset")
	objects := newFakeObjects()
	objects.getErr = boom
	objects.putErr = boom
	s := newTestStore(objects, "")

	_, err := s.Get(context.Background(), "profiles")
	assert.ErrorIs(t, err, boom)
	assert.False(t, errors.Is(err, apperror.ErrNotFound))

	assert.ErrorIs(t, s.Put(context.Background(), "profiles", []byte("{}")), boom)
}

// =========================================================================
// CONSTRUCTION
// =========================================================================

func TestNew_RequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}

func TestNew_UsesEndpointAndPathStyle(t *testing.T) {
	prevLoad, prevClient := loadDefaultAWSConfig, newClient
	t.Cleanup(func() { loadDefaultAWSConfig, newClient = prevLoad, prevClient })

	var loadOpts int
	loadDefaultAWSConfig = func(_ context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		loadOpts = len(optFns)
		return aws.Config{Region: "us-east-1"}, nil
	}
	var applied s3.Options
	newClient = func(_ aws.Config, optFns ...func(*s3.Options)) objectAPI {
		for _, fn := range optFns {
			fn(&applied)
		}
		return newFakeObjects()
	}

	s, err := New(context.Background(), Config{
		Bucket:    "checkinn",
		Region:    "us-east-1",
		Endpoint:  "http://localhost:9000",
		AccessKey: "minio",
		SecretKey: "minio123",
		Prefix:    "p/",
	})
	require.NoError(t, err)

	assert.Equal(t, 2, loadOpts, "region and static credentials")
	assert.Equal(t, "http://localhost:9000", aws.ToString(applied.BaseEndpoint))
	assert.True(t, applied.UsePathStyle)
	assert.Equal(t, "p/profiles", s.objectKey("profiles"))
}

func TestNew_ConfigLoadError(t *testing.T) {
	prevLoad := loadDefaultAWSConfig
	t.Cleanup(func() { loadDefaultAWSConfig = prevLoad })

	loadDefaultAWSConfig = func(context.Context, ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("no region")
	}

	_, err := New(context.Background(), Config{Bucket: "b"})
	assert.Error(t, err)
}
