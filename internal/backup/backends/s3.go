package backends

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/craftvault/craftvault/internal/errdefs"
)

// S3Backend stores backup data in an S3-compatible bucket.
// Supports AWS S3, MinIO, Wasabi, and other S3-compatible services.
type S3Backend struct {
	Endpoint        string `json:"endpoint,omitempty"`
	Bucket          string `json:"bucket"`
	Prefix          string `json:"prefix,omitempty"`
	Region          string `json:"region,omitempty"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`

	client *s3.Client
}

// Type returns the backend type.
func (b *S3Backend) Type() BackendType { return BackendTypeS3 }

// Validate checks if the configuration is valid.
func (b *S3Backend) Validate() error {
	if b.Bucket == "" {
		return errors.New("s3 backend: bucket is required")
	}
	if b.AccessKeyID == "" {
		return errors.New("s3 backend: access_key_id is required")
	}
	if b.SecretAccessKey == "" {
		return errors.New("s3 backend: secret_access_key is required")
	}
	return nil
}

// Connect initializes the S3 client. Must be called before any I/O.
func (b *S3Backend) Connect(ctx context.Context) error {
	if err := b.Validate(); err != nil {
		return err
	}

	region := b.Region
	if region == "" {
		region = "us-east-1"
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(b.AccessKeyID, b.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}

	b.client = s3.NewFromConfig(cfg, func(o *s3.Options) {
		if b.Endpoint != "" {
			o.BaseEndpoint = aws.String(b.Endpoint)
			o.UsePathStyle = true
		}
	})
	return nil
}

func (b *S3Backend) key(path string) string {
	if b.Prefix == "" {
		return path
	}
	return strings.TrimSuffix(b.Prefix, "/") + "/" + path
}

// Write stores the stream at path.
func (b *S3Backend) Write(ctx context.Context, path string, r io.Reader) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(b.key(path)),
		Body:   r,
	})
	if err != nil {
		return errdefs.TransientStoragef("s3 put %s: %v", path, err)
	}
	return nil
}

// Read opens the object at path.
func (b *S3Backend) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(b.key(path)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, errdefs.NotFoundf("object %s", path)
		}
		return nil, errdefs.TransientStoragef("s3 get %s: %v", path, err)
	}
	return out.Body, nil
}

// Delete removes the object at path. S3 deletes are idempotent.
func (b *S3Backend) Delete(ctx context.Context, path string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(b.key(path)),
	})
	if err != nil {
		return errdefs.TransientStoragef("s3 delete %s: %v", path, err)
	}
	return nil
}

// List returns all object paths under prefix.
func (b *S3Backend) List(ctx context.Context, prefix string) ([]string, error) {
	var paths []string
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.Bucket),
		Prefix: aws.String(b.key(prefix)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errdefs.TransientStoragef("s3 list %s: %v", prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if b.Prefix != "" {
				key = strings.TrimPrefix(key, strings.TrimSuffix(b.Prefix, "/")+"/")
			}
			paths = append(paths, key)
		}
	}
	return paths, nil
}

// Checksum returns the hex SHA-256 of the object at path. The object is
// streamed and hashed locally so the result is comparable with manifests
// regardless of how the object was uploaded.
func (b *S3Backend) Checksum(ctx context.Context, path string) (string, error) {
	r, err := b.Read(ctx, path)
	if err != nil {
		return "", err
	}
	defer r.Close()

	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", errdefs.TransientStoragef("s3 checksum %s: %v", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
