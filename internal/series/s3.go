package series

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/sawpanic/anomscan/internal/anomaly"
)

// S3Config configures access to S3 or an S3 compatible store (MinIO etc.)
type S3Config struct {
	Region   string `yaml:"s3_region"`
	Endpoint string `yaml:"s3_endpoint"`
	// Static credentials; leave empty to use the default AWS credential chain
	AccessKeyID     string `yaml:"-"`
	SecretAccessKey string `yaml:"-"`
	UsePathStyle    bool   `yaml:"s3_path_style"`
}

// ObjectGetter is the subset of the S3 client used by S3Source
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// NewS3Client builds an S3 client from cfg
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(cfg.Region))
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.UsePathStyle
		})
	}

	return s3.NewFromConfig(awsCfg, s3Opts...), nil
}

// S3Source reads a series object from a bucket
type S3Source struct {
	client ObjectGetter
	bucket string
	key    string
	format Format
}

// NewS3Source creates a source for bucket/key; an empty format is detected
// from the key extension
func NewS3Source(client ObjectGetter, bucket, key string, format Format) *S3Source {
	return &S3Source{client: client, bucket: bucket, key: key, format: format}
}

func (s *S3Source) Load(ctx context.Context) (anomaly.Series, error) {
	format := s.format
	if format == "" {
		detected, err := FormatFromPath(s.key)
		if err != nil {
			return nil, err
		}
		format = detected
	}

	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		return nil, fmt.Errorf("S3 get object %s failed: %w", s, err)
	}
	defer func() { _ = resp.Body.Close() }()

	series, err := Decode(resp.Body, format)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", s, err)
	}
	return series, nil
}

func (s *S3Source) String() string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, s.key)
}
