// Package pluginstore mirrors published plugin bundles from an S3 bucket into
// the local plugin directory before the loader scans it.
package pluginstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gofiber/fiber/v2/log"
)

// API is the part of the S3 client the store uses.
type API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// SyncResult counts what a Sync did.
type SyncResult struct {
	Downloaded []string
	Unchanged  int
	Ignored    int
}

type Store struct {
	api API
	cfg *Config
}

func New(api API, cfg *Config) *Store {
	return &Store{api: api, cfg: cfg}
}

// NewClient builds a store backed by the AWS SDK.
func NewClient(ctx context.Context, cfg *Config) (*Store, error) {
	if !cfg.IsEnabled() {
		return nil, errors.New("plugin bundle sync is disabled")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
		}
	})
	return New(client, cfg), nil
}

// IsBundleFile reports whether an object key belongs to a plugin bundle.
func IsBundleFile(key string) bool {
	base := path.Base(key)
	switch {
	case strings.HasSuffix(base, ".lua"):
		return true
	case base == "manifest.json", base == "package.json":
		return true
	case strings.HasSuffix(base, ".manifest.json"):
		return true
	}
	return false
}

// Sync downloads every bundle file under the configured prefix into dir.
// Files whose size matches and that are not older than the object are kept.
func (s *Store) Sync(ctx context.Context, dir string) (*SyncResult, error) {
	result := &SyncResult{}
	pages := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String(s.cfg.Prefix),
	})

	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return result, fmt.Errorf("list s3://%s/%s: %w", s.cfg.Bucket, s.cfg.Prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			rel := strings.TrimPrefix(key, s.cfg.Prefix)
			if rel == "" || strings.HasSuffix(rel, "/") || !IsBundleFile(rel) || !filepath.IsLocal(filepath.FromSlash(rel)) {
				result.Ignored++
				continue
			}

			target := filepath.Join(dir, filepath.FromSlash(rel))
			if upToDate(target, aws.ToInt64(obj.Size), aws.ToTime(obj.LastModified)) {
				result.Unchanged++
				continue
			}
			if err := s.download(ctx, key, target); err != nil {
				return result, err
			}
			result.Downloaded = append(result.Downloaded, rel)
		}
	}

	log.Infof("[PluginStore] Synced s3://%s/%s: %d downloaded, %d unchanged, %d ignored",
		s.cfg.Bucket, s.cfg.Prefix, len(result.Downloaded), result.Unchanged, result.Ignored)
	return result, nil
}

func (s *Store) download(ctx context.Context, key, target string) error {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to get object %s: %w", key, err)
	}
	defer out.Body.Close()

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// write next to the target and rename so the loader never reads half a file
	tmp, err := os.CreateTemp(filepath.Dir(target), ".download-*")
	if err != nil {
		return fmt.Errorf("failed to create local file: %w", err)
	}
	if _, err := io.Copy(tmp, out.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to copy %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if out.LastModified != nil {
		_ = os.Chtimes(target, *out.LastModified, *out.LastModified)
	}
	return nil
}

func upToDate(target string, size int64, modified time.Time) bool {
	info, err := os.Stat(target)
	if err != nil {
		return false
	}
	return info.Size() == size && !info.ModTime().Before(modified)
}
