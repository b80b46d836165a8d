package blobstore

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "attachments/ab/abcdef", Key("abcdef"))
	assert.Equal(t, "attachments/a", Key("a"))
}

func TestMemoryStore_StoresOnce(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	loc, err := m.Put(ctx, "abcd", "image/png", []byte("png"))
	require.NoError(t, err)
	assert.Equal(t, "mem://attachments/ab/abcd", loc)

	_, err = m.Put(ctx, "abcd", "image/png", []byte("png"))
	require.NoError(t, err)
	assert.Equal(t, 1, m.Writes())

	got, ok := m.Get("abcd")
	require.True(t, ok)
	assert.Equal(t, []byte("png"), got)
}

type fakeS3 struct {
	objects map[string][]byte
	headErr error
	putErr  error
	puts    int
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	if _, ok := f.objects[*in.Key]; ok {
		return &s3.HeadObjectOutput{}, nil
	}
	return nil, &types.NotFound{}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Key] = b
	f.puts++
	return &s3.PutObjectOutput{}, nil
}

func TestS3Store_PutSkipsExistingObjects(t *testing.T) {
	f := &fakeS3{objects: map[string][]byte{}}
	s := &S3Store{client: f, bucket: "evidence"}
	ctx := context.Background()

	loc, err := s.Put(ctx, "beef", "image/jpeg", []byte("jpeg"))
	require.NoError(t, err)
	assert.Equal(t, "s3://evidence/attachments/be/beef", loc)

	_, err = s.Put(ctx, "beef", "image/jpeg", []byte("jpeg"))
	require.NoError(t, err)
	assert.Equal(t, 1, f.puts)
	assert.Equal(t, []byte("jpeg"), f.objects["attachments/be/beef"])
}

func TestS3Store_PutErrors(t *testing.T) {
	ctx := context.Background()

	s := &S3Store{client: &fakeS3{headErr: errors.New("denied")}, bucket: "b"}
	_, err := s.Put(ctx, "beef", "", nil)
	assert.ErrorContains(t, err, "denied")

	s = &S3Store{client: &fakeS3{objects: map[string][]byte{}, putErr: errors.New("full")}, bucket: "b"}
	_, err = s.Put(ctx, "beef", "", nil)
	assert.ErrorContains(t, err, "full")
}

func TestNewS3Store_UsesSeams(t *testing.T) {
	origLoad, origNew := loadDefaultAWSConfig, newS3ClientFromConfig
	t.Cleanup(func() { loadDefaultAWSConfig, newS3ClientFromConfig = origLoad, origNew })

	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*config.LoadOptions) error) (aws.Config, error) {
		var lo config.LoadOptions
		for _, fn := range optFns {
			require.NoError(t, fn(&lo))
		}
		assert.Equal(t, "eu-west-1", lo.Region)
		assert.NotNil(t, lo.Credentials)
		return aws.Config{Region: lo.Region}, nil
	}
	var opts s3.Options
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) s3API {
		for _, fn := range optFns {
			fn(&opts)
		}
		return &fakeS3{objects: map[string][]byte{}}
	}

	s, err := NewS3Store(context.Background(), S3Options{
		Bucket: "evidence", Region: "eu-west-1", BaseEndpoint: "http://minio:9000",
		AccessKey: "key", SecretKey: "secret",
	})
	require.NoError(t, err)
	assert.Equal(t, "evidence", s.bucket)
	require.NotNil(t, opts.BaseEndpoint)
	assert.Equal(t, "http://minio:9000", *opts.BaseEndpoint)
	assert.True(t, opts.UsePathStyle)

	loadDefaultAWSConfig = func(context.Context, ...func(*config.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("no config")
	}
	_, err = NewS3Store(context.Background(), S3Options{})
	assert.ErrorContains(t, err, "no config")
}
