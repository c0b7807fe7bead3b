package storage

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/config"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/logging"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/metrics"
)

// PresignExpiry is how long links returned by GetURL stay valid
const PresignExpiry = time.Hour

// Storage mirrors saved frames and snapshots into an object store bucket
type Storage struct {
	client     *minio.Client
	bucketName string
	logger     *logging.Logger
}

// New creates a new storage client and makes sure the bucket exists
func New(ctx context.Context, cfg config.StorageConfig, logger *logging.Logger) (*Storage, error) {
	s, err := newStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	exists, err := s.client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		err = s.client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{
			Region: cfg.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return s, nil
}

func newStorage(cfg config.StorageConfig, logger *logging.Logger) (*Storage, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	return &Storage{
		client:     client,
		bucketName: cfg.BucketName,
		logger:     logger,
	}, nil
}

// Bucket returns the bucket objects are written to
func (s *Storage) Bucket() string {
	return s.bucketName
}

// UploadFile uploads a file from the local filesystem
func (s *Storage) UploadFile(ctx context.Context, objectName, filePath string) error {
	start := time.Now()
	info, err := s.client.FPutObject(ctx, s.bucketName, objectName, filePath, minio.PutObjectOptions{
		ContentType: getContentType(filePath),
	})
	s.observe("upload_file", objectName, info.Size, start, err)
	if err != nil {
		return fmt.Errorf("failed to upload file: %w", err)
	}

	return nil
}

// GetURL returns a presigned URL for an object
func (s *Storage) GetURL(ctx context.Context, objectName string) (string, error) {
	start := time.Now()
	u, err := s.client.PresignedGetObject(ctx, s.bucketName, objectName, PresignExpiry, url.Values{})
	s.observe("presign", objectName, 0, start, err)
	if err != nil {
		return "", fmt.Errorf("failed to generate URL: %w", err)
	}

	return u.String(), nil
}

// List lists objects with a prefix
func (s *Storage) List(ctx context.Context, prefix string) ([]string, error) {
	start := time.Now()
	var objects []string

	for object := range s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			s.observe("list", prefix, 0, start, object.Err)
			return nil, fmt.Errorf("failed to list objects: %w", object.Err)
		}
		objects = append(objects, object.Key)
	}

	s.observe("list", prefix, 0, start, nil)
	return objects, nil
}

// FrameURLs returns presigned links for every mirrored frame of a job,
// ordered by key.
func (s *Storage) FrameURLs(ctx context.Context, jobID string) ([]string, error) {
	keys, err := s.List(ctx, FramePrefix(jobID))
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)

	urls := make([]string, 0, len(keys))
	for _, key := range keys {
		u, err := s.GetURL(ctx, key)
		if err != nil {
			return nil, err
		}
		urls = append(urls, u)
	}
	return urls, nil
}

// FramePrefix is the key prefix frames of a job are mirrored under
func FramePrefix(jobID string) string {
	return ObjectKey("frames", jobID) + "/"
}

func (s *Storage) observe(op, key string, size int64, start time.Time, err error) {
	elapsed := time.Since(start)
	metrics.RecordStorageOperation(op, status(err), elapsed.Seconds(), size)
	s.logger.LogStorageOperation(op, s.bucketName, key, size, elapsed, err)
}

// ObjectKey joins key segments with forward slashes regardless of platform
func ObjectKey(parts ...string) string {
	for i, p := range parts {
		parts[i] = strings.Trim(filepath.ToSlash(p), "/")
	}
	return path.Join(parts...)
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// getContentType returns the content type based on file extension
func getContentType(filePath string) string {
	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".json":
		return "application/json"
	case ".mp4":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".mkv":
		return "video/x-matroska"
	case ".webm":
		return "video/webm"
	default:
		return "application/octet-stream"
	}
}
