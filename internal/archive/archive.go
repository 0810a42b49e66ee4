package archive

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	apperrors "github.com/fetchdeck/backend/internal/errors"
	"github.com/fetchdeck/backend/internal/logger"
)

// Client provides access to S3-compatible object storage (MinIO) for
// archiving completed downloads.
type Client struct {
	client *minio.Client
	bucket string
}

// Config holds the configuration for the archive storage client.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// New creates a new archive storage client.
func New(cfg *Config) (*Client, error) {
	// Strip protocol prefix if present (minio-go expects host:port)
	endpoint := cfg.Endpoint
	endpoint = strings.TrimPrefix(endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  miniocreds.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &Client{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.client.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		err = c.client.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{})
		if err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", c.bucket, err)
		}
	}

	return nil
}

// Ping checks if the storage is accessible by verifying the bucket
// exists.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.client.BucketExists(ctx, c.bucket)
	return err
}

// Upload copies one local file into the bucket under key.
func (c *Client) Upload(ctx context.Context, key, path string) error {
	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := c.client.FPutObject(ctx, c.bucket, key, path, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return nil
}

// ObjectExists checks if an object exists in storage.
func (c *Client) ObjectExists(ctx context.Context, key string) (bool, error) {
	_, err := c.client.StatObject(ctx, c.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence %s: %w", key, err)
	}
	return true, nil
}

// Bucket returns the bucket name.
func (c *Client) Bucket() string {
	return c.bucket
}

// objectStore is the slice of Client the Archiver needs. Tests
// substitute a fake.
type objectStore interface {
	Upload(ctx context.Context, key, path string) error
	ObjectExists(ctx context.Context, key string) (bool, error)
	Bucket() string
}

// Archiver uploads completed downloads in the background. Plug its Hook
// into the queue manager's completion hook.
type Archiver struct {
	client objectStore
	log    *logger.Logger

	// SetKey records the archive key back on the job once the upload
	// succeeds.
	setKey func(ctx context.Context, jobID, key string) error
}

func NewArchiver(client *Client, setKey func(ctx context.Context, jobID, key string) error) *Archiver {
	return &Archiver{
		client: client,
		log:    logger.Default().WithComponent("archive"),
		setKey: setKey,
	}
}

// Archive uploads one completed download and records its key. Transient
// storage failures are retried with backoff.
func (a *Archiver) Archive(ctx context.Context, jobID, outputPath string) error {
	if _, err := os.Stat(outputPath); err != nil {
		return apperrors.ArchiveError("output file missing: " + outputPath).WithCause(err)
	}

	key := ObjectKey(outputPath)

	// Resubmitting a finished job can archive the same file twice.
	// Skip the upload when the object is already there.
	if exists, err := a.client.ObjectExists(ctx, key); err == nil && exists {
		a.log.Info(ctx, "object already archived", map[string]any{
			"job_id": jobID,
			"key":    key,
			"bucket": a.client.Bucket(),
		})
		return a.setKey(ctx, jobID, key)
	}

	err := apperrors.Retry(ctx, apperrors.ArchiveRetryConfig(), func(ctx context.Context) error {
		return a.client.Upload(ctx, key, outputPath)
	})
	if err != nil {
		a.log.Error(ctx, "archive upload failed", apperrors.ArchiveError(err.Error()), map[string]any{
			"job_id": jobID,
			"key":    key,
		})
		return apperrors.ArchiveError("upload failed").WithCause(err)
	}

	if err := a.setKey(ctx, jobID, key); err != nil {
		a.log.Error(ctx, "failed to record archive key", err, map[string]any{"job_id": jobID, "key": key})
		return err
	}

	a.log.Info(ctx, "download archived", map[string]any{"job_id": jobID, "key": key})
	return nil
}

var keyUnsafe = regexp.MustCompile(`[^a-zA-Z0-9._\[\]-]+`)

// ObjectKey derives a safe object key from an output filename:
// diacritics transliterated to ASCII, anything else unsafe collapsed to
// single underscores, prefixed with "media/".
func ObjectKey(outputPath string) string {
	base := filepath.Base(outputPath)
	base = transliterate(base)
	base = keyUnsafe.ReplaceAllString(base, "_")
	base = strings.Trim(base, "_")
	if base == "" {
		base = "download"
	}
	return "media/" + base
}

// transliterate converts accented characters to their ASCII equivalents.
func transliterate(s string) string {
	t := transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)), // Mn: Mark, Nonspacing
		norm.NFC,
	)

	result, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return result
}
