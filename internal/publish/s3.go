package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "signalpulse/config"
	"signalpulse/logger"
	"signalpulse/models"
)

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink archives each report as a JSON object under a date-partitioned key.
type S3Sink struct {
	client objectPutter
	bucket string
	prefix string
	log    *logger.Log
}

func NewS3Sink(ctx context.Context, cfg appconfig.S3Config) (*S3Sink, error) {
	log := logger.GetLogger()

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				"",
			),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		log.WithComponent("s3_sink").WithError(err).Warn("failed to load AWS configuration")
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	creds, err := awsConfig.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	log.WithComponent("s3_sink").WithFields(logger.Fields{
		"bucket": cfg.Bucket,
		"region": cfg.Region,
		"prefix": cfg.Prefix,
	}).Debug("s3 sink initialized")

	return &S3Sink{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix, log: log}, nil
}

func (w *S3Sink) Name() string { return "s3" }

// ObjectKey returns prefix/venue/yyyy/mm/dd/scan_id.json for a report.
func ObjectKey(prefix string, report models.ScanReport) string {
	t := report.CompletedAt.UTC()
	return path.Join(
		prefix,
		string(report.Venue),
		t.Format("2006"),
		t.Format("01"),
		t.Format("02"),
		report.ScanID+".json",
	)
}

func (w *S3Sink) Publish(ctx context.Context, report models.ScanReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	key := ObjectKey(w.prefix, report)

	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"venue":   string(report.Venue),
			"results": fmt.Sprint(len(report.Results)),
		},
	}
	if _, err := w.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", w.bucket, err)
	}

	w.log.WithComponent("s3_sink").WithFields(logger.Fields{
		"key":  key,
		"size": len(data),
	}).Debug("scan report uploaded")
	return nil
}

func (w *S3Sink) Close() error { return nil }
