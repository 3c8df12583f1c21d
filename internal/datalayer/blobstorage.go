package datalayer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/glizzus/srs-radio/internal/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type PutOptions struct {
	Size        int64
	ContentType string
}

// BlobStorage is where audio sources are read from and remuxed files are
// written to. List resolves a location to the keys under it: a single key
// when the location names one object, or the direct children of a
// directory-like location. Keys are sorted lexically.
type BlobStorage interface {
	List(ctx context.Context, location string) ([]string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Put(ctx context.Context, key string, data io.Reader, opts PutOptions) error
}

const s3Scheme = "s3://"

// ParseS3URL splits s3://bucket/prefix. ok is false for anything else.
func ParseS3URL(location string) (bucket, prefix string, ok bool) {
	rest, found := strings.CutPrefix(location, s3Scheme)
	if !found {
		return "", "", false
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", false
	}
	return bucket, prefix, true
}

// Resolve picks the storage backing location and returns the location
// relative to that storage. s3:// locations use MinIO credentials from the
// environment; everything else is the local file system.
func Resolve(location string) (BlobStorage, string, error) {
	bucket, prefix, ok := ParseS3URL(location)
	if !ok {
		if strings.HasPrefix(location, s3Scheme) {
			return nil, "", fmt.Errorf("invalid s3 location %q: missing bucket", location)
		}
		return FileStorage{}, location, nil
	}

	storage, err := NewMinioStorageFromEnv(bucket)
	if err != nil {
		return nil, "", fmt.Errorf("configuring storage for %s: %w", location, err)
	}
	return storage, prefix, nil
}

// FileStorage reads and writes the local file system. Keys are paths.
type FileStorage struct{}

var _ BlobStorage = FileStorage{}

func (FileStorage) List(_ context.Context, location string) ([]string, error) {
	info, err := os.Stat(location)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{location}, nil
	}

	// os.ReadDir returns entries sorted by filename.
	entries, err := os.ReadDir(location)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		keys = append(keys, filepath.Join(location, entry.Name()))
	}
	return keys, nil
}

func (FileStorage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	return os.Open(key)
}

func (FileStorage) Put(_ context.Context, key string, data io.Reader, _ PutOptions) error {
	f, err := os.Create(key)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

type MinioStorage struct {
	client *minio.Client
	bucket string
}

var _ BlobStorage = (*MinioStorage)(nil)

func NewMinioStorage(cfg *config.MinioConfig, bucket string) (*MinioStorage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Username, cfg.Password, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, err
	}

	return &MinioStorage{
		client: client,
		bucket: bucket,
	}, nil
}

func NewMinioStorageFromEnv(bucket string) (*MinioStorage, error) {
	cfg, err := config.NewMinioConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return NewMinioStorage(cfg, bucket)
}

func (s *MinioStorage) EnsureBucket(ctx context.Context) error {
	err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
	// If the bucket is already owned, succeed
	if err != nil {
		if minio.ToErrorResponse(err).Code == "BucketAlreadyOwnedByYou" {
			return nil
		}
		return err
	}
	return nil
}

func (s *MinioStorage) List(ctx context.Context, location string) ([]string, error) {
	if location != "" && !strings.HasSuffix(location, "/") {
		_, err := s.client.StatObject(ctx, s.bucket, location, minio.StatObjectOptions{})
		if err == nil {
			return []string{location}, nil
		}
		if minio.ToErrorResponse(err).Code != "NoSuchKey" {
			return nil, err
		}
		location += "/"
	}

	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: location}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		// common prefixes come back as keys ending in a slash
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		keys = append(keys, obj.Key)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("s3://%s/%s: %w", s.bucket, location, os.ErrNotExist)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MinioStorage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	// GetObject is lazy; Stat surfaces a missing key before the first read.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, errors.Join(os.ErrNotExist, err)
		}
		return nil, err
	}
	return obj, nil
}

func (s *MinioStorage) Put(ctx context.Context, key string, data io.Reader, opts PutOptions) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, data, opts.Size, minio.PutObjectOptions{
		ContentType: opts.ContentType,
	})
	return err
}
