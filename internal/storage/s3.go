// Package storage publishes finished caption files to S3.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"ctscribe/internal/logging"
	"ctscribe/internal/services"
)

// objectPutter is the subset of *s3.Client the uploader uses.
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader writes caption files under a bucket prefix.
type Uploader struct {
	client objectPutter
	bucket string
	prefix string
	logger *slog.Logger
}

// NewS3Uploader builds a client from the default AWS credential chain.
// An empty region defers to the environment and shared config.
func NewS3Uploader(ctx context.Context, bucket, prefix, region string, logger *slog.Logger) (*Uploader, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if strings.TrimSpace(region) != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "storage", "load aws config", "", err)
	}
	return newUploader(s3.NewFromConfig(cfg), bucket, prefix, logger), nil
}

func newUploader(client objectPutter, bucket, prefix string, logger *slog.Logger) *Uploader {
	prefix = strings.Trim(prefix, "/")
	return &Uploader{
		client: client,
		bucket: bucket,
		prefix: prefix,
		logger: logging.NewComponentLogger(logger, "s3"),
	}
}

// Key returns the object key for a caption file of resourceID.
func (u *Uploader) Key(resourceID, localPath string) string {
	return path.Join(u.prefix, resourceID, filepath.Base(localPath))
}

// Upload puts every file and returns their s3:// URIs in order.
func (u *Uploader) Upload(ctx context.Context, resourceID string, files ...string) ([]string, error) {
	uris := make([]string, 0, len(files))
	for _, file := range files {
		key := u.Key(resourceID, file)
		if err := u.put(ctx, file, key); err != nil {
			return uris, err
		}
		uri := fmt.Sprintf("s3://%s/%s", u.bucket, key)
		logging.WithContext(ctx, u.logger).Info("caption file uploaded", logging.String("uri", uri))
		uris = append(uris, uri)
	}
	return uris, nil
}

func (u *Uploader) put(ctx context.Context, file, key string) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("open %s: %w", file, err)
	}
	defer f.Close()

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType(file)),
	})
	if err != nil {
		return services.Wrap(services.ErrTransient, "storage", "S3 PutObject", key, err)
	}
	return nil
}

func contentType(file string) string {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".vtt":
		return "text/vtt; charset=utf-8"
	case ".srt":
		return "application/x-subrip; charset=utf-8"
	}
	if t := mime.TypeByExtension(filepath.Ext(file)); t != "" {
		return t
	}
	return "application/octet-stream"
}
