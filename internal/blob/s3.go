// ABOUTME: S3-compatible Uploader built on aws-sdk-go-v2
// ABOUTME: Uploads attachment bytes and presigns a time-limited preview URL

package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dingdoor/chat-gateway/internal/store"
)

const (
	defaultPreviewTTL = 72 * time.Hour
	cacheControl      = "public, max-age=3600"
)

// S3Config holds connection settings for an S3-compatible bucket.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // optional, for MinIO/GCS interop endpoints
	AccessKeyID     string
	SecretAccessKey string
	PathStyle       bool
	PreviewTTL      time.Duration
}

// S3Uploader implements Uploader against an S3 bucket.
type S3Uploader struct {
	bucket     string
	previewTTL time.Duration
	uploader   *manager.Uploader
	presigner  *s3.PresignClient
	logger     *slog.Logger
}

// NewS3Uploader builds the S3 client once for the life of the process.
func NewS3Uploader(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3Uploader, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	ttl := cfg.PreviewTTL
	if ttl <= 0 {
		ttl = defaultPreviewTTL
	}

	return &S3Uploader{
		bucket:     cfg.Bucket,
		previewTTL: ttl,
		uploader:   manager.NewUploader(client),
		presigner:  s3.NewPresignClient(client),
		logger:     logger.With("component", "blob"),
	}, nil
}

// Upload stores data at objectPath and returns its attachment metadata.
// A failed preview presign is logged and leaves URL empty.
func (u *S3Uploader) Upload(ctx context.Context, objectPath string, data []byte, contentType string) (*store.Attachment, error) {
	filename := path.Base(objectPath)

	_, err := u.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:             aws.String(u.bucket),
		Key:                aws.String(objectPath),
		Body:               bytes.NewReader(data),
		ContentType:        aws.String(contentType),
		CacheControl:       aws.String(cacheControl),
		ContentDisposition: aws.String(fmt.Sprintf("inline; filename=%q", filename)),
	})
	if err != nil {
		return nil, fmt.Errorf("uploading %s: %w", objectPath, err)
	}

	att := &store.Attachment{
		Filename:    filename,
		ContentType: contentType,
		Bytes:       int64(len(data)),
		StoragePath: objectPath,
		URI:         fmt.Sprintf("s3://%s/%s", u.bucket, objectPath),
	}

	req, err := u.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(objectPath),
	}, s3.WithPresignExpires(u.previewTTL))
	if err != nil {
		u.logger.Warn("presigning preview url failed", "path", objectPath, "error", err)
	} else {
		att.URL = req.URL
	}

	u.logger.Debug("uploaded attachment", "path", objectPath, "bytes", att.Bytes)
	return att, nil
}
