package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/streamforge/worker/pkg/retry"
)

const (
	uploadTimeout   = 30 * time.Second
	downloadTimeout = 60 * time.Second

	defaultAttempts = 3
	baseDelay       = 500 * time.Millisecond
	maxDelay        = 5 * time.Second

	// deleteBatchSize is the S3 DeleteObjects limit.
	deleteBatchSize = 1000
)

var contentTypes = map[string]string{
	".m3u8": "application/vnd.apple.mpegurl",
	".ts":   "video/mp2t",
	".mp4":  "video/mp4",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
}

// ContentTypeForFilename returns the MIME type for a filename extension.
func ContentTypeForFilename(filename string) string {
	if ct, ok := contentTypes[strings.ToLower(path.Ext(filename))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// Config holds object-store client configuration.
type Config struct {
	Endpoint        string // empty = AWS endpoints
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	ForcePathStyle  bool
}

// Gateway provides retrying, timeout-bounded object-store operations over a
// single bucket.
type Gateway struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	logger   *zap.Logger
}

// NewGateway creates an S3 gateway. Credentials fall back to the default AWS
// chain when not set explicitly; a non-empty endpoint plus path-style
// addressing targets MinIO-compatible stores.
func NewGateway(ctx context.Context, cfg Config, logger *zap.Logger) (*Gateway, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, awsconfig.WithBaseEndpoint(cfg.Endpoint))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)))
	} else {
		logger.Warn("object store using default credential chain (S3_ACCESS_KEY/S3_SECRET_KEY not set)")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
	})
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 5 * 1024 * 1024 // 5MB parts for streaming
	})
	return &Gateway{
		client:   client,
		uploader: uploader,
		bucket:   cfg.Bucket,
		logger:   logger,
	}, nil
}

// Bucket returns the configured bucket name.
func (g *Gateway) Bucket() string { return g.bucket }

// EnsureBucket verifies the bucket exists, creating it when missing. Called
// once on startup.
func (g *Gateway) EnsureBucket(ctx context.Context) error {
	return retry.Do(ctx, defaultAttempts, baseDelay, maxDelay, func() error {
		opCtx, cancel := context.WithTimeout(ctx, uploadTimeout)
		defer cancel()

		_, err := g.client.HeadBucket(opCtx, &s3.HeadBucketInput{Bucket: aws.String(g.bucket)})
		if err == nil {
			return nil
		}
		_, err = g.client.CreateBucket(opCtx, &s3.CreateBucketInput{Bucket: aws.String(g.bucket)})
		if err != nil {
			var owned *types.BucketAlreadyOwnedByYou
			var exists *types.BucketAlreadyExists
			if errors.As(err, &owned) || errors.As(err, &exists) {
				return nil
			}
			return fmt.Errorf("create bucket %s: %w", g.bucket, err)
		}
		g.logger.Info("bucket created", zap.String("bucket", g.bucket))
		return nil
	})
}

// DownloadToFile fetches an object to localPath and verifies the result is
// non-empty. Retried with backoff on transient failures.
func (g *Gateway) DownloadToFile(ctx context.Context, key, localPath string) error {
	return retry.Do(ctx, defaultAttempts, baseDelay, maxDelay, func() error {
		opCtx, cancel := context.WithTimeout(ctx, downloadTimeout)
		defer cancel()

		out, err := g.client.GetObject(opCtx, &s3.GetObjectInput{
			Bucket: aws.String(g.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return fmt.Errorf("get object %s: %w", key, err)
		}
		defer out.Body.Close()

		f, err := os.Create(localPath)
		if err != nil {
			return fmt.Errorf("create %s: %w", localPath, err)
		}
		n, err := io.Copy(f, out.Body)
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			os.Remove(localPath)
			return fmt.Errorf("write %s: %w", localPath, err)
		}
		if n == 0 {
			os.Remove(localPath)
			return fmt.Errorf("downloaded object %s is empty", key)
		}
		return nil
	})
}

// UploadFile uploads a local file under key, inferring the content type from
// the extension.
func (g *Gateway) UploadFile(ctx context.Context, localPath, key string) error {
	return retry.Do(ctx, defaultAttempts, baseDelay, maxDelay, func() error {
		opCtx, cancel := context.WithTimeout(ctx, uploadTimeout)
		defer cancel()

		f, err := os.Open(localPath)
		if err != nil {
			return fmt.Errorf("open %s: %w", localPath, err)
		}
		defer f.Close()

		_, err = g.uploader.Upload(opCtx, &s3.PutObjectInput{
			Bucket:      aws.String(g.bucket),
			Key:         aws.String(key),
			Body:        f,
			ContentType: aws.String(ContentTypeForFilename(localPath)),
		})
		if err != nil {
			return fmt.Errorf("upload %s: %w", key, err)
		}
		return nil
	})
}

// UploadDir walks root and uploads every regular file, preserving its path
// relative to root as the key suffix under prefix. Per-file failures are
// collected without aborting the walk; the uploaded keys are returned either
// way.
func (g *Gateway) UploadDir(ctx context.Context, root, prefix string) ([]string, error) {
	files, err := collectFiles(root)
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	var uploaded []string
	var errs []error
	for _, rel := range files {
		key := path.Join(prefix, filepath.ToSlash(rel))
		if err := g.UploadFile(ctx, filepath.Join(root, rel), key); err != nil {
			g.logger.Error("upload failed", zap.String("key", key), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		uploaded = append(uploaded, key)
	}
	return uploaded, errors.Join(errs...)
}

// Exists reports whether an object exists under key.
func (g *Gateway) Exists(ctx context.Context, key string) (bool, error) {
	return retry.DoValue(ctx, defaultAttempts, baseDelay, maxDelay, func() (bool, error) {
		opCtx, cancel := context.WithTimeout(ctx, uploadTimeout)
		defer cancel()

		_, err := g.client.HeadObject(opCtx, &s3.HeadObjectInput{
			Bucket: aws.String(g.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			var notFound *types.NotFound
			if errors.As(err, &notFound) {
				return false, nil
			}
			return false, fmt.Errorf("head object %s: %w", key, err)
		}
		return true, nil
	})
}

// DeletePrefix removes every object under prefix using paginated listing and
// batched deletes.
func (g *Gateway) DeletePrefix(ctx context.Context, prefix string) error {
	return retry.Do(ctx, defaultAttempts, baseDelay, maxDelay, func() error {
		opCtx, cancel := context.WithTimeout(ctx, downloadTimeout)
		defer cancel()
		return g.deletePrefix(opCtx, prefix)
	})
}

func (g *Gateway) deletePrefix(ctx context.Context, prefix string) error {
	paginator := s3.NewListObjectsV2Paginator(g.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(g.bucket),
		Prefix: aws.String(prefix),
	})

	var batch []types.ObjectIdentifier
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		_, err := g.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(g.bucket),
			Delete: &types.Delete{Objects: batch, Quiet: aws.Bool(true)},
		})
		batch = batch[:0]
		return err
	}

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			batch = append(batch, types.ObjectIdentifier{Key: obj.Key})
			if len(batch) == deleteBatchSize {
				if err := flush(); err != nil {
					return fmt.Errorf("delete under %s: %w", prefix, err)
				}
			}
		}
	}
	if err := flush(); err != nil {
		return fmt.Errorf("delete under %s: %w", prefix, err)
	}
	return nil
}

// collectFiles returns the regular files under root as root-relative paths.
func collectFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}
