// Package resources issues presigned object-storage links for the files
// attached to permissions.
package resources

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignPutObject(ctx, in, optFns...)
	}
	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignGetObject(ctx, in, optFns...)
	}
)

type S3Config struct {
	AccessKey    string
	SecretKey    string
	Bucket       string
	Region       string
	BaseEndpoint string
	// Expiry is the lifetime of issued links.
	Expiry time.Duration
}

// S3Presigner signs links against an S3-compatible store (MinIO in
// development). Object keys are grouped by uploader and day.
type S3Presigner struct {
	cfg    S3Config
	client *s3.PresignClient
	now    func() time.Time
}

func NewS3Presigner(ctx context.Context, cfg S3Config) (*S3Presigner, error) {
	awsCfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	if err != nil {
		return nil, err
	}

	client := newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.BaseEndpoint)
		}
		o.UsePathStyle = true
	})
	if cfg.Expiry <= 0 {
		cfg.Expiry = 15 * time.Minute
	}
	return &S3Presigner{cfg: cfg, client: s3.NewPresignClient(client), now: time.Now}, nil
}

// StorageKey returns a fresh object key for a file uploaded by owner.
func (p *S3Presigner) StorageKey(owner, name string) string {
	d := p.now().UTC()
	return fmt.Sprintf("permissions/%s/%d/%02d/%02d/%s-%s", owner, d.Year(), d.Month(), d.Day(), uuid.NewString(), path.Base(name))
}

// UploadURL returns a fresh object key for a file of owner and a PUT link
// for it.
func (p *S3Presigner) UploadURL(ctx context.Context, owner, name string) (string, string, error) {
	bucket := p.cfg.Bucket
	key := p.StorageKey(owner, name)

	req, err := presignPutObject(p.client, ctx, &s3.PutObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, s3.WithPresignExpires(p.cfg.Expiry))
	if err != nil {
		return "", "", err
	}
	return key, req.URL, nil
}

func (p *S3Presigner) DownloadURL(ctx context.Context, key string) (string, error) {
	bucket := p.cfg.Bucket

	req, err := presignGetObject(p.client, ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, s3.WithPresignExpires(p.cfg.Expiry))
	if err != nil {
		return "", err
	}
	return req.URL, nil
}
