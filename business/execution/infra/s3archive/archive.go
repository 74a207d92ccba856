// Package s3archive writes each finalized execution as a JSON object to an
// S3-compatible bucket.
package s3archive

import (
	"bytes"
	"context"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sugawarayuuta/sonnet"

	"github.com/fd1az/triarb/business/execution/domain"
	"github.com/fd1az/triarb/internal/apperror"
	"github.com/fd1az/triarb/internal/config"
)

// ObjectPutter is the slice of the S3 API the archive uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Archive stores results under <prefix>/<yyyy>/<mm>/<dd>/<id>.json.
type Archive struct {
	client ObjectPutter
	bucket string
	prefix string
}

// New builds an S3 client from cfg. Endpoint and ForcePathStyle support
// MinIO and other S3-compatible stores.
func New(ctx context.Context, cfg config.S3Config) (*Archive, error) {
	if cfg.Bucket == "" || cfg.Region == "" {
		return nil, apperror.New(apperror.CodeConfigurationError, apperror.WithContext("s3 archive needs bucket and region"))
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, apperror.New(apperror.CodeConfigurationError,
			apperror.WithContext("load aws config"), apperror.WithCause(err))
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})
	return NewWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client ObjectPutter, bucket, prefix string) *Archive {
	return &Archive{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// Key returns the object key for res.
func (a *Archive) Key(res *domain.ExecutionResult) string {
	return path.Join(a.prefix, res.StartedAt.UTC().Format("2006/01/02"), res.ID+".json")
}

// SaveExecution uploads res as indented JSON.
func (a *Archive) SaveExecution(ctx context.Context, res *domain.ExecutionResult) error {
	body, err := sonnet.Marshal(res)
	if err != nil {
		return apperror.New(apperror.CodeStorageError, apperror.WithContext("encode execution"), apperror.WithCause(err))
	}
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.Key(res)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return apperror.New(apperror.CodeStorageError,
			apperror.WithContextf("archive execution %s to s3://%s", res.ID, a.bucket), apperror.WithCause(err))
	}
	return nil
}

// Ping checks the bucket is reachable with the configured credentials.
func (a *Archive) Ping(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.bucket)})
	return err
}
