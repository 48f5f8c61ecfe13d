// Package s3store implements blob.Store on top of the AWS SDK for Go v2.
// Buckets are containers and keys are objects.
package s3store

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/dagucloud/blobtrigger/internal/core/blob"
)

var _ blob.Store = (*Store)(nil)

// API is the subset of the S3 client used by Store.
type API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Store is an S3-backed blob.Store.
type Store struct {
	client   API
	region   string
	pageSize int32
}

// New creates a Store from cfg. It supports the standard AWS credential
// chain plus explicit credentials.
func New(ctx context.Context, cfg *Config) (*Store, error) {
	client, err := createClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewWithClient(client, cfg), nil
}

// NewWithClient creates a Store around an existing client.
func NewWithClient(client API, cfg *Config) *Store {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultConfig().PageSize
	}
	return &Store{
		client:   client,
		region:   cfg.Region,
		pageSize: pageSize,
	}
}

func createClient(ctx context.Context, cfg *Config) (*s3.Client, error) {
	var opts []func(*config.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			cfg.SessionToken,
		)
		opts = append(opts, config.WithCredentialsProvider(creds))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	if cfg.DisableSSL {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.HTTPClient = &http.Client{Transport: &http.Transport{}}
			if cfg.Endpoint != "" {
				o.EndpointOptions.DisableHTTPS = true
			}
		})
	}

	return s3.NewFromConfig(awsCfg, s3Opts...), nil
}

// URI returns the s3:// URI of an object.
func URI(bucket, key string) string {
	return fmt.Sprintf("s3://%s/%s", bucket, key)
}

// EnsureExists implements blob.Store. A missing bucket is created.
func (s *Store) EnsureExists(ctx context.Context, c blob.Container) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.Name)})
	if err == nil {
		return nil
	}
	if !errors.Is(classifyError(err), blob.ErrNotFound) {
		return blob.NewContainerError("ensure", c.Name, classifyError(err))
	}

	input := &s3.CreateBucketInput{Bucket: aws.String(c.Name)}
	if s.region != "" && s.region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.region),
		}
	}
	if _, err := s.client.CreateBucket(ctx, input); err != nil {
		if isAlreadyOwned(err) {
			return nil
		}
		return blob.NewContainerError("ensure", c.Name, classifyError(err))
	}
	return nil
}

// List implements blob.Store with a flat ListObjectsV2 listing.
func (s *Store) List(ctx context.Context, c blob.Container) iter.Seq2[blob.ObjectRef, error] {
	return func(yield func(blob.ObjectRef, error) bool) {
		paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
			Bucket:  aws.String(c.Name),
			MaxKeys: aws.Int32(s.pageSize),
		})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				yield(blob.ObjectRef{}, blob.NewContainerError("list", c.Name, classifyError(err)))
				return
			}
			for _, obj := range page.Contents {
				key := aws.ToString(obj.Key)
				ref := blob.ObjectRef{Container: c, Key: key, URI: URI(c.Name, key)}
				if !yield(ref, nil) {
					return
				}
			}
		}
	}
}

// FetchMetadata implements blob.Store with HeadObject.
func (s *Store) FetchMetadata(ctx context.Context, ref blob.ObjectRef) (blob.ObjectInfo, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(ref.Container.Name),
		Key:    aws.String(ref.Key),
	})
	if err != nil {
		return blob.ObjectInfo{}, blob.NewObjectError("stat", ref, classifyError(err))
	}
	return blob.ObjectInfo{
		LastModified: aws.ToTime(out.LastModified),
		Size:         aws.ToInt64(out.ContentLength),
		ETag:         aws.ToString(out.ETag),
		ContentType:  aws.ToString(out.ContentType),
	}, nil
}

// classifyError maps S3 error codes to the blob sentinels. Unknown errors
// are returned unchanged.
func classifyError(err error) error {
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return fmt.Errorf("%w: %v", blob.ErrNotFound, err)
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return fmt.Errorf("%w: %v", blob.ErrNotFound, err)
	}
	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &noSuchBucket) {
		return fmt.Errorf("%w: %v", blob.ErrNotAvailable, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return fmt.Errorf("%w: %v", blob.ErrNotFound, err)
		case "NoSuchBucket", "OperationAborted":
			// OperationAborted is returned while a bucket deletion is still
			// in progress.
			return fmt.Errorf("%w: %v", blob.ErrNotAvailable, err)
		}
	}
	return err
}

func isAlreadyOwned(err error) bool {
	var owned *types.BucketAlreadyOwnedByYou
	if errors.As(err, &owned) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "BucketAlreadyOwnedByYou"
}
