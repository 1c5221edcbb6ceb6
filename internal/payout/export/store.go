package export

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/smallbiznis/escrowd/internal/config"
	"github.com/smallbiznis/escrowd/internal/payout/domain"
	"go.uber.org/zap"
)

// LocalStore writes transfer files under a directory.
type LocalStore struct {
	dir string
}

func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{dir: dir}
}

func (s *LocalStore) Put(ctx context.Context, key string, content []byte) (string, error) {
	path := filepath.Join(s.dir, filepath.FromSlash(strings.TrimLeft(key, "/")))
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	if err := os.WriteFile(path, content, 0o640); err != nil {
		return "", fmt.Errorf("write transfer file: %w", err)
	}
	return path, nil
}

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store archives transfer files in a bucket. Path-style addressing is used
// when a custom endpoint is set so S3-compatible stores work.
type S3Store struct {
	client s3API
	bucket string
	prefix string
}

func NewS3Store(ctx context.Context, cfg config.ExportConfig) (*S3Store, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("export bucket is not configured")
	}
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3Region),
	}
	if cfg.S3AccessKeyID != "" && cfg.S3SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Store{client: client, bucket: cfg.S3Bucket, prefix: cfg.S3Prefix}, nil
}

func (s *S3Store) objectKey(key string) string {
	key = strings.TrimLeft(key, "/")
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

func (s *S3Store) Put(ctx context.Context, key string, content []byte) (string, error) {
	objectKey := s.objectKey(key)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(content),
		ContentType: aws.String("text/csv"),
		Metadata: map[string]string{
			"sha256": Checksum(content),
		},
	})
	if err != nil {
		return "", fmt.Errorf("put transfer file: %w", err)
	}
	return "s3://" + s.bucket + "/" + objectKey, nil
}

// Provide picks the archive backend from configuration. An S3 setup that
// cannot be loaded falls back to the local directory.
func Provide(cfg config.Config, log *zap.Logger) domain.ExportStore {
	log = log.Named("payout.export")
	if cfg.Export.Backend == config.ExportBackendS3 {
		store, err := NewS3Store(context.Background(), cfg.Export)
		if err == nil {
			return store
		}
		log.Warn("s3 export store unavailable, using local directory", zap.Error(err))
	}
	return NewLocalStore(cfg.Export.LocalDir)
}
