// Package miniostore implements blob.Store with the MinIO client, which works
// against MinIO, AWS S3 and most S3-compatible services.
package miniostore

import (
	"context"
	"fmt"
	"iter"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dagucloud/blobtrigger/internal/core/blob"
)

var _ blob.Store = (*Store)(nil)

// API is the subset of *minio.Client used by Store.
type API interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
}

// Store is a MinIO-backed blob.Store.
type Store struct {
	client API
	region string
}

// New connects a Store using cfg.
func New(cfg *Config) (*Store, error) {
	var creds *credentials.Credentials
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		creds = credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)
	} else {
		creds = credentials.NewEnvAWS()
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  creds,
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return NewWithClient(client, cfg.Region), nil
}

// NewWithClient creates a Store around an existing client.
func NewWithClient(client API, region string) *Store {
	return &Store{client: client, region: region}
}

// URI returns the s3:// URI of an object.
func URI(bucket, key string) string {
	return fmt.Sprintf("s3://%s/%s", bucket, key)
}

// EnsureExists implements blob.Store. A missing bucket is created.
func (s *Store) EnsureExists(ctx context.Context, c blob.Container) error {
	exists, err := s.client.BucketExists(ctx, c.Name)
	if err != nil {
		return blob.NewContainerError("ensure", c.Name, translateError(err))
	}
	if exists {
		return nil
	}

	err = s.client.MakeBucket(ctx, c.Name, minio.MakeBucketOptions{Region: s.region})
	if err == nil {
		return nil
	}
	if minio.ToErrorResponse(err).Code == "BucketAlreadyOwnedByYou" {
		return nil
	}
	return blob.NewContainerError("ensure", c.Name, translateError(err))
}

// List implements blob.Store with a recursive, flat listing.
func (s *Store) List(ctx context.Context, c blob.Container) iter.Seq2[blob.ObjectRef, error] {
	return func(yield func(blob.ObjectRef, error) bool) {
		// Cancelling the context stops the listing goroutine and drains the
		// channel when the consumer stops early.
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		for obj := range s.client.ListObjects(ctx, c.Name, minio.ListObjectsOptions{Recursive: true}) {
			if obj.Err != nil {
				yield(blob.ObjectRef{}, blob.NewContainerError("list", c.Name, translateError(obj.Err)))
				return
			}
			ref := blob.ObjectRef{Container: c, Key: obj.Key, URI: URI(c.Name, obj.Key)}
			if !yield(ref, nil) {
				return
			}
		}
	}
}

// FetchMetadata implements blob.Store with StatObject.
func (s *Store) FetchMetadata(ctx context.Context, ref blob.ObjectRef) (blob.ObjectInfo, error) {
	info, err := s.client.StatObject(ctx, ref.Container.Name, ref.Key, minio.StatObjectOptions{})
	if err != nil {
		return blob.ObjectInfo{}, blob.NewObjectError("stat", ref, translateError(err))
	}
	return blob.ObjectInfo{
		LastModified: info.LastModified,
		Size:         info.Size,
		ETag:         info.ETag,
		ContentType:  info.ContentType,
	}, nil
}

// translateError maps MinIO error responses to the blob sentinels. Unknown
// errors are returned unchanged.
func translateError(err error) error {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey":
		return fmt.Errorf("%w: %v", blob.ErrNotFound, err)
	case "NoSuchBucket", "OperationAborted":
		return fmt.Errorf("%w: %v", blob.ErrNotAvailable, err)
	}
	// StatObject on a HEAD request carries no body, so only the status
	// code is left.
	if resp.Code == "" && resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %v", blob.ErrNotFound, err)
	}
	return err
}
