// Package objectstore wraps the object-storage upload stage: pushing a
// converted disk image to Scaleway's S3-compatible Object Storage so the
// target API can import it as a snapshot.
package objectstore

import (
	"context"
	"errors"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/scaleway/vmware2scw/internal/util"
	vmerrors "github.com/scaleway/vmware2scw/pkg/errors"
)

// Config points the client at Scaleway's S3-compatible endpoint.
type Config struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
}

// Store uploads local files to a single bucket, skipping re-upload of
// objects that already exist (the upload stage is resumable: a job
// restarted mid-upload should not redo work a prior attempt finished).
type Store struct {
	client *s3.Client
	bucket string
	log    *zap.SugaredLogger
}

func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, vmerrors.NewConfigurationError("objectstore: bucket is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(staticCredentials(cfg)),
	)
	if err != nil {
		return nil, vmerrors.NewConfigurationError("objectstore: loading aws config: %v", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})

	return &Store{client: client, bucket: cfg.Bucket, log: zap.S().Named("objectstore")}, nil
}

// Exists reports whether key is already present in the bucket, via HEAD.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotFound" {
		return false, nil
	}
	return false, vmerrors.NewTransientError(err, "checking object %s/%s", s.bucket, key)
}

// UploadFile PUTs the file at localPath to key, skipping the transfer
// entirely if the object already exists.
func (s *Store) UploadFile(ctx context.Context, localPath, key string) error {
	exists, err := s.Exists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		s.log.Infow("object already present, skipping upload", "key", key)
		return nil
	}

	f, err := os.Open(localPath)
	if err != nil {
		return vmerrors.NewConfigurationError("objectstore: opening %s: %v", localPath, err)
	}
	defer f.Close()

	if info, err := f.Stat(); err == nil {
		s.log.Infow("uploading object", "key", key, "size_gb", util.BytesToGB(info.Size()))
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return vmerrors.NewTransientError(err, "uploading %s to %s/%s", localPath, s.bucket, key)
	}
	return nil
}

// Bucket returns the bucket this store uploads to, for building snapshot
// import requests that need it alongside the object key.
func (s *Store) Bucket() string { return s.bucket }

func staticCredentials(cfg Config) aws.CredentialsProvider {
	return credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
}
