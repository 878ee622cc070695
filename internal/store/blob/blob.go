// Briefwave - Personalized Audio Briefing Backend
// Copyright 2026 Ash Morgan
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ashmorgan/briefwave

// Package blob implements the artifact store on S3-compatible object
// storage (MinIO in the reference deployment). Audio lives in the
// content bucket under audio/, transcript/, image/ and tmp/ prefixes;
// per-user brief artifacts live in the user bucket under
// {uid}/{kind}/.
//
// All calls run behind a circuit breaker so a storage outage degrades
// generation instead of wedging every worker on retries.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/ashmorgan/briefwave/internal/config"
	"github.com/ashmorgan/briefwave/internal/logging"
	"github.com/ashmorgan/briefwave/internal/metrics"
	"github.com/ashmorgan/briefwave/internal/models"
)

// ErrNotFound is returned when the requested object does not exist.
var ErrNotFound = errors.New("blob: not found")

// Store wraps the S3 client for the content and user buckets.
type Store struct {
	client        *s3.Client
	uploader      *manager.Uploader
	contentBucket string
	userBucket    string
	breaker       *gobreaker.CircuitBreaker[interface{}]
}

// New builds the S3 client from configuration. Static credentials are
// used when set; otherwise the default AWS chain applies.
func New(ctx context.Context, cfg *config.BlobConfig) (*Store, error) {
	options := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		options = append(options, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	breaker := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        "blob-store",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.SetBlobBreakerOpen(to == gobreaker.StateOpen)
			logger := logging.WithComponent("blob")
			logger.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Blob store breaker state changed")
		},
	})

	return &Store{
		client:        client,
		uploader:      manager.NewUploader(client),
		contentBucket: cfg.ContentBucket,
		userBucket:    cfg.UserBucket,
		breaker:       breaker,
	}, nil
}

func (s *Store) execute(operation string, fn func() (interface{}, error)) (interface{}, error) {
	out, err := s.breaker.Execute(fn)
	metrics.RecordBlobOperation(operation, err == nil)
	return out, err
}

// PutArtifact stores an episode artifact and returns its object key.
func (s *Store) PutArtifact(ctx context.Context, kind models.ArtifactKind, id string, data io.Reader) (string, error) {
	key := models.ArtifactPath(kind, id)
	return key, s.put(ctx, s.contentBucket, key, data)
}

// PutTmpArtifact stores a scratch artifact under tmp/.
func (s *Store) PutTmpArtifact(ctx context.Context, kind models.ArtifactKind, id string, data io.Reader) (string, error) {
	key := models.TmpArtifactPath(kind, id)
	return key, s.put(ctx, s.contentBucket, key, data)
}

// PutUserArtifact stores a per-user brief artifact in the user bucket.
func (s *Store) PutUserArtifact(ctx context.Context, userID string, kind models.ArtifactKind, id string, data io.Reader) (string, error) {
	key := models.UserArtifactPath(userID, kind, id)
	return key, s.put(ctx, s.userBucket, key, data)
}

func (s *Store) put(ctx context.Context, bucket, key string, data io.Reader) error {
	_, err := s.execute("put", func() (interface{}, error) {
		return s.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
			Body:   data,
		})
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", key, err)
	}
	return nil
}

// Get fetches an object from the content bucket.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	return s.get(ctx, s.contentBucket, key)
}

// GetUser fetches an object from the user bucket.
func (s *Store) GetUser(ctx context.Context, userID, key string) ([]byte, error) {
	return s.get(ctx, s.userBucket, userID+"/"+key)
}

func (s *Store) get(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := s.execute("get", func() (interface{}, error) {
		resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			var noKey *types.NoSuchKey
			if errors.As(err, &noKey) {
				return nil, ErrNotFound
			}
			return nil, err
		}
		defer func() { _ = resp.Body.Close() }()
		return io.ReadAll(resp.Body)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetching %s: %w", key, err)
	}
	return out.([]byte), nil
}

// Delete removes a single object from the content bucket. Deleting a
// missing object is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.execute("delete", func() (interface{}, error) {
		return s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.contentBucket),
			Key:    aws.String(key),
		})
	})
	if err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

// DeleteUser removes a single object from the user bucket.
func (s *Store) DeleteUser(ctx context.Context, key string) error {
	_, err := s.execute("delete", func() (interface{}, error) {
		return s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.userBucket),
			Key:    aws.String(key),
		})
	})
	if err != nil {
		return fmt.Errorf("deleting user object %s: %w", key, err)
	}
	return nil
}

// DeleteBatch removes up to 1000 objects from the content bucket in a
// single call and returns how many the server acknowledged.
func (s *Store) DeleteBatch(ctx context.Context, keys []string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	objects := make([]types.ObjectIdentifier, len(keys))
	for i, k := range keys {
		objects[i] = types.ObjectIdentifier{Key: aws.String(k)}
	}

	out, err := s.execute("delete_batch", func() (interface{}, error) {
		return s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.contentBucket),
			Delete: &types.Delete{
				Objects: objects,
				Quiet:   aws.Bool(true),
			},
		})
	})
	if err != nil {
		return 0, fmt.Errorf("deleting %d objects: %w", len(keys), err)
	}

	resp := out.(*s3.DeleteObjectsOutput)
	failed := len(resp.Errors)
	if failed > 0 {
		logger := logging.WithComponent("blob")
		logger.Warn().
			Int("failed", failed).
			Msg("Some objects failed batch deletion")
	}
	return len(keys) - failed, nil
}

// EnsureBuckets creates the content and user buckets if they do not
// exist. MinIO deployments call this at startup.
func (s *Store) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range []string{s.contentBucket, s.userBucket} {
		_, err := s.execute("ensure_bucket", func() (interface{}, error) {
			_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
			if err == nil {
				return nil, nil
			}
			_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
			return nil, err
		})
		if err != nil {
			return fmt.Errorf("ensuring bucket %s: %w", bucket, err)
		}
	}
	return nil
}

// PutArtifactBytes is a convenience wrapper for in-memory payloads.
func (s *Store) PutArtifactBytes(ctx context.Context, kind models.ArtifactKind, id string, data []byte) (string, error) {
	return s.PutArtifact(ctx, kind, id, bytes.NewReader(data))
}
