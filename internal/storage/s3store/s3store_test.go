package s3store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dagucloud/blobtrigger/internal/core/blob"
)

type mockAPI struct {
	mock.Mock
}

func (m *mockAPI) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*s3.HeadBucketOutput)
	return out, args.Error(1)
}

func (m *mockAPI) CreateBucket(ctx context.Context, params *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*s3.CreateBucketOutput)
	return out, args.Error(1)
}

func (m *mockAPI) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*s3.ListObjectsV2Output)
	return out, args.Error(1)
}

func (m *mockAPI) HeadObject(ctx context.Context, params *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*s3.HeadObjectOutput)
	return out, args.Error(1)
}

func bucketIs(name string) any {
	return mock.MatchedBy(func(in *s3.HeadBucketInput) bool {
		return aws.ToString(in.Bucket) == name
	})
}

func TestEnsureExists_BucketPresent(t *testing.T) {
	api := &mockAPI{}
	api.On("HeadBucket", mock.Anything, bucketIs("uploads")).Return(&s3.HeadBucketOutput{}, nil)

	store := NewWithClient(api, nil)
	require.NoError(t, store.EnsureExists(context.Background(), blob.Container{Name: "uploads"}))
	api.AssertNotCalled(t, "CreateBucket", mock.Anything, mock.Anything)
}

func TestEnsureExists_CreatesMissingBucket(t *testing.T) {
	api := &mockAPI{}
	api.On("HeadBucket", mock.Anything, bucketIs("uploads")).Return(nil, &types.NotFound{})
	api.On("CreateBucket", mock.Anything, mock.MatchedBy(func(in *s3.CreateBucketInput) bool {
		return aws.ToString(in.Bucket) == "uploads" &&
			in.CreateBucketConfiguration != nil &&
			in.CreateBucketConfiguration.LocationConstraint == types.BucketLocationConstraintEuWest1
	})).Return(&s3.CreateBucketOutput{}, nil)

	store := NewWithClient(api, &Config{Region: "eu-west-1"})
	require.NoError(t, store.EnsureExists(context.Background(), blob.Container{Name: "uploads"}))
	api.AssertExpectations(t)
}

func TestEnsureExists_BucketBeingDeleted(t *testing.T) {
	api := &mockAPI{}
	api.On("HeadBucket", mock.Anything, mock.Anything).Return(nil, &types.NotFound{})
	api.On("CreateBucket", mock.Anything, mock.Anything).
		Return(nil, &smithy.GenericAPIError{Code: "OperationAborted", Message: "conflicting operation in progress"})

	store := NewWithClient(api, nil)
	err := store.EnsureExists(context.Background(), blob.Container{Name: "doomed"})
	assert.ErrorIs(t, err, blob.ErrNotAvailable)
}

func TestEnsureExists_AlreadyOwned(t *testing.T) {
	api := &mockAPI{}
	api.On("HeadBucket", mock.Anything, mock.Anything).Return(nil, &types.NotFound{})
	api.On("CreateBucket", mock.Anything, mock.Anything).Return(nil, &types.BucketAlreadyOwnedByYou{})

	store := NewWithClient(api, nil)
	assert.NoError(t, store.EnsureExists(context.Background(), blob.Container{Name: "raced"}))
}

func TestEnsureExists_AccessDenied(t *testing.T) {
	api := &mockAPI{}
	denied := &smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"}
	api.On("HeadBucket", mock.Anything, mock.Anything).Return(nil, denied)

	store := NewWithClient(api, nil)
	err := store.EnsureExists(context.Background(), blob.Container{Name: "locked"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, blob.ErrNotAvailable)
	assert.ErrorIs(t, err, denied)
}

func TestList_FollowsPages(t *testing.T) {
	api := &mockAPI{}
	api.On("ListObjectsV2", mock.Anything, mock.MatchedBy(func(in *s3.ListObjectsV2Input) bool {
		return in.ContinuationToken == nil
	})).Return(&s3.ListObjectsV2Output{
		Contents:              []types.Object{{Key: aws.String("a")}, {Key: aws.String("b")}},
		IsTruncated:           aws.Bool(true),
		NextContinuationToken: aws.String("next"),
	}, nil).Once()
	api.On("ListObjectsV2", mock.Anything, mock.MatchedBy(func(in *s3.ListObjectsV2Input) bool {
		return aws.ToString(in.ContinuationToken) == "next"
	})).Return(&s3.ListObjectsV2Output{
		Contents:    []types.Object{{Key: aws.String("dir/c")}},
		IsTruncated: aws.Bool(false),
	}, nil).Once()

	store := NewWithClient(api, &Config{PageSize: 2})
	var refs []blob.ObjectRef
	for ref, err := range store.List(context.Background(), blob.Container{Name: "uploads"}) {
		require.NoError(t, err)
		refs = append(refs, ref)
	}

	require.Len(t, refs, 3)
	assert.Equal(t, "dir/c", refs[2].Key)
	assert.Equal(t, "s3://uploads/dir/c", refs[2].URI)
	api.AssertExpectations(t)
}

func TestList_BucketVanished(t *testing.T) {
	api := &mockAPI{}
	api.On("ListObjectsV2", mock.Anything, mock.Anything).Return(nil, &types.NoSuchBucket{})

	store := NewWithClient(api, nil)
	var gotErr error
	for _, err := range store.List(context.Background(), blob.Container{Name: "gone"}) {
		gotErr = err
	}
	assert.ErrorIs(t, gotErr, blob.ErrNotAvailable)
}

func TestFetchMetadata(t *testing.T) {
	modified := time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC)
	api := &mockAPI{}
	api.On("HeadObject", mock.Anything, mock.MatchedBy(func(in *s3.HeadObjectInput) bool {
		return aws.ToString(in.Key) == "a.txt"
	})).Return(&s3.HeadObjectOutput{
		LastModified:  aws.Time(modified),
		ContentLength: aws.Int64(128),
		ETag:          aws.String(`"abc"`),
		ContentType:   aws.String("text/plain"),
	}, nil)
	api.On("HeadObject", mock.Anything, mock.MatchedBy(func(in *s3.HeadObjectInput) bool {
		return aws.ToString(in.Key) == "gone.txt"
	})).Return(nil, &types.NotFound{})

	store := NewWithClient(api, nil)
	c := blob.Container{Name: "uploads"}

	info, err := store.FetchMetadata(context.Background(), blob.ObjectRef{Container: c, Key: "a.txt"})
	require.NoError(t, err)
	assert.Equal(t, modified, info.LastModified)
	assert.Equal(t, int64(128), info.Size)
	assert.Equal(t, "text/plain", info.ContentType)

	_, err = store.FetchMetadata(context.Background(), blob.ObjectRef{Container: c, Key: "gone.txt"})
	assert.ErrorIs(t, err, blob.ErrNotFound)
}

func TestClassifyError(t *testing.T) {
	plain := errors.New("connection reset")

	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "NotFoundType", err: &types.NotFound{}, want: blob.ErrNotFound},
		{name: "NoSuchKeyType", err: &types.NoSuchKey{}, want: blob.ErrNotFound},
		{name: "NoSuchBucketType", err: &types.NoSuchBucket{}, want: blob.ErrNotAvailable},
		{name: "NoSuchKeyCode", err: &smithy.GenericAPIError{Code: "NoSuchKey"}, want: blob.ErrNotFound},
		{name: "OperationAbortedCode", err: &smithy.GenericAPIError{Code: "OperationAborted"}, want: blob.ErrNotAvailable},
		{name: "Unknown", err: plain, want: plain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classifyError(tt.err), tt.want)
		})
	}
}

func TestDecodeConfig(t *testing.T) {
	cfg, err := DecodeConfig(map[string]any{
		"region":         "eu-central-1",
		"forcepathstyle": "true",
		"pageSize":       "250",
	})
	require.NoError(t, err)
	assert.Equal(t, "eu-central-1", cfg.Region)
	assert.True(t, cfg.ForcePathStyle)
	assert.Equal(t, int32(250), cfg.PageSize)

	cfg, err = DecodeConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1000), cfg.PageSize)

	_, err = DecodeConfig(map[string]any{"pageSize": 5000})
	assert.Error(t, err)
}
