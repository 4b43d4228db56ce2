package resources

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testConfig = S3Config{
	AccessKey:    "minioadmin",
	SecretKey:    "minioadmin",
	Bucket:       "expiryx",
	Region:       "us-east-1",
	BaseEndpoint: "http://127.0.0.1:9000",
}

func TestNewS3Presigner_AppliesConfig(t *testing.T) {
	origLoad, origNew := loadDefaultAWSConfig, newS3ClientFromConfig
	t.Cleanup(func() { loadDefaultAWSConfig, newS3ClientFromConfig = origLoad, origNew })

	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		var lo awsconfig.LoadOptions
		for _, fn := range optFns {
			require.NoError(t, fn(&lo))
		}
		assert.Equal(t, "us-east-1", lo.Region)
		require.NotNil(t, lo.Credentials)
		creds, err := lo.Credentials.Retrieve(ctx)
		require.NoError(t, err)
		assert.Equal(t, "minioadmin", creds.AccessKeyID)
		return aws.Config{Region: lo.Region, Credentials: lo.Credentials}, nil
	}
	var endpoint string
	var pathStyle bool
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		var o s3.Options
		for _, fn := range optFns {
			fn(&o)
		}
		endpoint, pathStyle = aws.ToString(o.BaseEndpoint), o.UsePathStyle
		return origNew(cfg, optFns...)
	}

	p, err := NewS3Presigner(context.Background(), testConfig)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:9000", endpoint)
	assert.True(t, pathStyle)
	assert.Equal(t, 15*time.Minute, p.cfg.Expiry)
}

func TestNewS3Presigner_LoadError(t *testing.T) {
	orig := loadDefaultAWSConfig
	t.Cleanup(func() { loadDefaultAWSConfig = orig })
	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("load-fail")
	}

	_, err := NewS3Presigner(context.Background(), testConfig)
	require.EqualError(t, err, "load-fail")
}

func TestPresignedLinks(t *testing.T) {
	p, err := NewS3Presigner(context.Background(), testConfig)
	require.NoError(t, err)
	p.now = func() time.Time { return time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC) }

	key, url, err := p.UploadURL(context.Background(), "0xa11ce", "../docs/report.pdf")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "permissions/0xa11ce/2026/05/01/"), key)
	assert.True(t, strings.HasSuffix(key, "-report.pdf"), key)
	assert.True(t, strings.HasPrefix(url, "http://127.0.0.1:9000/expiryx/"+key), url)
	assert.Contains(t, url, "X-Amz-Signature=")

	get, err := p.DownloadURL(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(get, "http://127.0.0.1:9000/expiryx/"+key), get)
	assert.Contains(t, get, "X-Amz-Expires=900")
}

func TestPresignErrors(t *testing.T) {
	p, err := NewS3Presigner(context.Background(), testConfig)
	require.NoError(t, err)

	origPut, origGet := presignPutObject, presignGetObject
	t.Cleanup(func() { presignPutObject, presignGetObject = origPut, origGet })
	presignPutObject = func(*s3.PresignClient, context.Context, *s3.PutObjectInput, ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return nil, errors.New("put-fail")
	}
	presignGetObject = func(*s3.PresignClient, context.Context, *s3.GetObjectInput, ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return &v4.PresignedHTTPRequest{URL: "http://x", Method: http.MethodGet}, errors.New("get-fail")
	}

	_, _, err = p.UploadURL(context.Background(), "0xa11ce", "a.pdf")
	require.EqualError(t, err, "put-fail")
	_, err = p.DownloadURL(context.Background(), "k")
	require.EqualError(t, err, "get-fail")
}
