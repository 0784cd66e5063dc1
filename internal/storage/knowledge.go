// Package storage is the content store for agent knowledge files,
// backed by any S3-compatible bucket.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// KnowledgeConfig holds the bucket binding.
type KnowledgeConfig struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

// KnowledgeStore uploads and deletes knowledge documents. A nil store
// is valid and rejects uploads, so wiring stays unconditional when no
// bucket is configured.
type KnowledgeStore struct {
	client *s3.Client
	bucket string
}

// NewKnowledgeStore builds a store from config. Returns nil (not an
// error) when no bucket is configured.
func NewKnowledgeStore(cfg KnowledgeConfig) (*KnowledgeStore, error) {
	if cfg.Bucket == "" {
		log.Info().Msg("No S3 bucket configured. Knowledge uploads disabled.")
		return nil, nil
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("S3 credentials not available - set S3_ACCESS_KEY and S3_SECRET_KEY")
	}

	awsCfg := aws.Config{
		Region:      cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
	}

	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		awsCfg.EndpointResolverWithOptions = aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				if service == s3.ServiceID {
					return aws.Endpoint{URL: endpoint, HostnameImmutable: true}, nil
				}
				return aws.Endpoint{}, &aws.EndpointNotFoundError{}
			})
	}

	// Path-style avoids SSL issues with dotted bucket names and is
	// what MinIO-style endpoints expect.
	usePathStyle := cfg.Endpoint != "" || strings.Contains(cfg.Bucket, ".")
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = usePathStyle
	})

	log.Info().
		Str("bucket", cfg.Bucket).
		Str("region", cfg.Region).
		Str("endpoint", cfg.Endpoint).
		Msg("S3 knowledge store initialized")
	return &KnowledgeStore{client: client, bucket: cfg.Bucket}, nil
}

// ObjectKey lays knowledge files out per agent and day.
func ObjectKey(agentID, fileName string) string {
	fileName = strings.ReplaceAll(fileName, "/", "_")
	return fmt.Sprintf("knowledge/%s/%s/%s", agentID, time.Now().UTC().Format("2006/01/02"), fileName)
}

// Put uploads one document and returns its object key.
func (k *KnowledgeStore) Put(ctx context.Context, agentID, fileName, contentType string, data []byte) (string, error) {
	if k == nil {
		return "", fmt.Errorf("knowledge store is not configured")
	}

	key := ObjectKey(agentID, fileName)
	_, err := k.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(k.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload knowledge file: %w", err)
	}

	log.Info().Str("key", key).Int("size", len(data)).Msg("Knowledge file uploaded")
	return key, nil
}

// Delete removes one document; missing objects are not an error.
func (k *KnowledgeStore) Delete(ctx context.Context, key string) error {
	if k == nil {
		return nil
	}
	_, err := k.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(k.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete knowledge file: %w", err)
	}
	return nil
}
