package experiment

import (
	"bytes"
	"context"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	ErrNoBucket = errors.New("no S3 bucket configured")
)

// S3Sink stores each document as an object in an S3 bucket.
type S3Sink struct {
	*baseSink

	s3Client *s3.Client
	s3Bucket string
}

func NewS3Sink(bucket string) *S3Sink {
	return &S3Sink{baseSink: newBaseSink(), s3Bucket: bucket}
}

// ObjectKey returns the S3 object key the document under key is stored at.
func ObjectKey(key Key) string {
	return path.Join("experiments", key.Project, key.ApplicationID, key.RunLabel+".json")
}

// Connect loads the default AWS configuration and creates the S3 client.
func (s *S3Sink) Connect(ctx context.Context) error {
	if s.s3Bucket == "" {
		return ErrNoBucket
	}

	sdkConfig, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		s.logger.Error("Failed to load AWS SDK config", zap.Error(err))
		return err
	}

	s.s3Client = s3.NewFromConfig(sdkConfig)
	s.logger.Debug("Created AWS S3 client.", zap.String("bucket", s.s3Bucket))
	return nil
}

func (s *S3Sink) Put(ctx context.Context, key Key, doc []byte) error {
	objectKey := ObjectKey(key)
	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.s3Bucket),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(doc),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		s.logger.Error("Error while writing experiment document to S3.",
			zap.String("key", objectKey), zap.String("bucket", s.s3Bucket), zap.Error(err))
		return err
	}

	s.logger.Debug("Wrote experiment document to S3.",
		zap.String("key", objectKey), zap.String("bucket", s.s3Bucket), zap.Int("num_bytes", len(doc)))
	return nil
}

func (s *S3Sink) Close() error {
	return nil
}
