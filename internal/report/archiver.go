package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"crucible/internal/model"
)

// S3Archiver uploads consolidated reports to an S3 bucket so download
// endpoints keep working after local artifacts are rotated out
type S3Archiver struct {
	s3     *s3.Client
	bucket string
	region string
}

// NewS3Archiver builds an archiver with static credentials
func NewS3Archiver(accessKey, secretKey, bucket, region string) (*S3Archiver, error) {
	credProvider := aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     accessKey,
			SecretAccessKey: secretKey,
		}, nil
	})

	cfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credProvider),
	)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(cfg)

	return &S3Archiver{
		s3:     client,
		bucket: bucket,
		region: region,
	}, nil
}

// Archive uploads the report as JSON keyed by its batch job id
func (a *S3Archiver) Archive(report *model.ConsolidatedReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report for archiving: %w", err)
	}

	key := fmt.Sprintf("reports/%s.json", report.BatchJobID)

	uploader := manager.NewUploader(a.s3)
	_, err = uploader.Upload(context.TODO(), &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return err
	}

	log.Info().
		Str("bucket", a.bucket).
		Str("key", key).
		Msg("Consolidated report archived to S3")
	return nil
}

// TestConnection verifies the bucket is reachable
func (a *S3Archiver) TestConnection() error {
	_, err := a.s3.ListObjectsV2(context.TODO(), &s3.ListObjectsV2Input{
		Bucket:  aws.String(a.bucket),
		MaxKeys: aws.Int32(1),
	})
	return err
}
