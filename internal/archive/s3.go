package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/chimefrb/workflow/internal/config"
	"github.com/chimefrb/workflow/internal/werrors"
)

// S3Driver implements the s3 storage backend of spec.md §4.4. copy/move
// upload the item and rewrite it to an s3://bucket/key URI; delete and
// permissions are explicitly unimplemented.
type S3Driver struct {
	client *s3.Client
	bucket string
}

// NewS3Driver builds the s3 storage driver for a workspace's s3
// credentials, falling back to the default AWS credential chain when no
// WORKFLOW_S3_* overrides are set.
func NewS3Driver(ctx context.Context, bucket string, creds config.S3Credentials) (*S3Driver, error) {
	optFns := []func(*awsconfig.LoadOptions) error{}
	if creds.AccessKey != "" && creds.SecretKey != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.AccessKey, creds.SecretKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if creds.Endpoint != "" {
			o.BaseEndpoint = &creds.Endpoint
		}
		o.UsePathStyle = creds.Endpoint != ""
	})

	return &S3Driver{client: client, bucket: bucket}, nil
}

func (d *S3Driver) upload(ctx context.Context, destPrefix string, items []string) ([]string, error) {
	out := make([]string, 0, len(items))
	for _, item := range items {
		key := filepath.ToSlash(filepath.Join(destPrefix, filepath.Base(item)))
		f, err := os.Open(item)
		if err != nil {
			return nil, fmt.Errorf("%w: open %s: %v", werrors.ErrArchive, item, err)
		}
		_, err = d.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: &d.bucket,
			Key:    &key,
			Body:   f,
		})
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: put %s: %v", werrors.ErrArchive, key, err)
		}
		out = append(out, fmt.Sprintf("s3://%s/%s", d.bucket, key))
	}
	return out, nil
}

// Bypass leaves items untouched.
func (d *S3Driver) Bypass(_ context.Context, _ string, items []string) ([]string, error) {
	return items, nil
}

// Copy uploads each item, keeping the source file on disk.
func (d *S3Driver) Copy(ctx context.Context, destPrefix string, items []string) ([]string, error) {
	return d.upload(ctx, destPrefix, items)
}

// Move uploads each item and removes the local source on success.
func (d *S3Driver) Move(ctx context.Context, destPrefix string, items []string) ([]string, error) {
	uploaded, err := d.upload(ctx, destPrefix, items)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		_ = os.Remove(item)
	}
	return uploaded, nil
}

// Upload is an alias for Copy.
func (d *S3Driver) Upload(ctx context.Context, destPrefix string, items []string) ([]string, error) {
	return d.upload(ctx, destPrefix, items)
}

// Delete is explicitly unimplemented for the s3 driver, per spec.md §4.4.
func (d *S3Driver) Delete(context.Context, []string) error {
	return fmt.Errorf("%w: s3 driver does not support delete", werrors.ErrUnimplemented)
}

// Permissions is explicitly unimplemented for the s3 driver, per spec.md §4.4.
func (d *S3Driver) Permissions(context.Context, string, []string) error {
	return fmt.Errorf("%w: s3 driver does not support permissions", werrors.ErrUnimplemented)
}
