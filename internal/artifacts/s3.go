package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// s3API is the slice of the S3 client the store uses; tests substitute a fake.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Store persists manifests as objects under a key prefix. Each PutObject is
// a single request, so a stored key never refers to a partial blob.
type S3Store struct {
	client s3API
	bucket string
	prefix string
	logger arbor.ILogger
}

var _ interfaces.ArtifactStore = (*S3Store)(nil)

// NewS3Store builds the AWS client from configuration. Static credentials and
// a custom endpoint are optional; absent values fall back to the default
// credential chain.
func NewS3Store(ctx context.Context, cfg common.S3Artifacts, logger arbor.ILogger) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 artifact bucket cannot be empty")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return newS3Store(client, cfg.Bucket, cfg.Prefix, logger), nil
}

func newS3Store(client s3API, bucket, prefix string, logger arbor.ILogger) *S3Store {
	if prefix == "" {
		prefix = "manifests/"
	}
	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: prefix,
		logger: logger,
	}
}

// PutManifest uploads the manifest and returns its freshly generated key.
func (s *S3Store) PutManifest(ctx context.Context, m *models.Manifest) (string, error) {
	data, err := m.ToJSON()
	if err != nil {
		return "", err
	}

	key := newKey()
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(key)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload artifact: %w", err)
	}

	s.logger.Debug().
		Str("key", key).
		Str("bucket", s.bucket).
		Int("items", m.Count).
		Msg("Stored manifest artifact")

	return key, nil
}

// GetManifest downloads and deserializes a manifest by key.
func (s *S3Store) GetManifest(ctx context.Context, key string) (*models.Manifest, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("%w: %s", interfaces.ErrManifestNotFound, key)
		}
		return nil, fmt.Errorf("failed to fetch artifact %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact %s: %w", key, err)
	}
	return models.ManifestFromJSON(data)
}

func (s *S3Store) objectKey(key string) string {
	return s.prefix + key + ".json"
}
