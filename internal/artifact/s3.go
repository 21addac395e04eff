// Package artifact archives finished CSV files to S3-compatible storage and
// hands out time-limited download links for them.
package artifact

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Archiver stores an order's CSV and returns a link to it.
type Archiver interface {
	Archive(ctx context.Context, orderID string, csv []byte) (url string, err error)
}

// Config selects the bucket. Endpoint is set for non-AWS providers (R2, B2,
// MinIO) and switches the client to path-style addressing.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
	LinkTTL         time.Duration
}

// S3Archiver is an Archiver backed by the AWS SDK.
type S3Archiver struct {
	client  *s3.Client
	presign *s3.PresignClient
	cfg     Config
}

// NewS3Archiver builds the S3 client. It does not contact the bucket.
func NewS3Archiver(ctx context.Context, cfg Config) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("artifact: bucket is required")
	}
	if cfg.LinkTTL <= 0 {
		cfg.LinkTTL = 7 * 24 * time.Hour
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("artifact: load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Archiver{
		client:  client,
		presign: s3.NewPresignClient(client),
		cfg:     cfg,
	}, nil
}

// Archive uploads csv under <prefix>/<orderID>.csv and returns a presigned
// GET link valid for LinkTTL.
func (a *S3Archiver) Archive(ctx context.Context, orderID string, csv []byte) (string, error) {
	key := path.Join(a.cfg.Prefix, orderID+".csv")

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:             aws.String(a.cfg.Bucket),
		Key:                aws.String(key),
		Body:               bytes.NewReader(csv),
		ContentLength:      aws.Int64(int64(len(csv))),
		ContentType:        aws.String("text/csv; charset=utf-8"),
		ContentDisposition: aws.String(fmt.Sprintf(`attachment; filename="%s"`, path.Base(key))),
	})
	if err != nil {
		return "", fmt.Errorf("artifact: put s3://%s/%s: %w", a.cfg.Bucket, key, err)
	}

	req, err := a.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.cfg.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(a.cfg.LinkTTL))
	if err != nil {
		return "", fmt.Errorf("artifact: presign %s: %w", key, err)
	}
	return req.URL, nil
}
