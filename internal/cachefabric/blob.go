package cachefabric

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// BlobConfig configures the durable object store backing the cache fabric's
// blob tier (compiled PDFs, bundle bodies, format files).
type BlobConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// BlobStore is the durable tier of the cache fabric: every cached artifact
// (bundle body, compiled PDF, format file, auxiliary output) ultimately
// lives here, keyed by a cache key. The memory overlay exists only to avoid
// round trips to this tier on repeated access.
type BlobStore struct {
	client *minio.Client
	bucket string
}

// NewBlobStore creates a client and ensures the bucket exists.
func NewBlobStore(cfg *BlobConfig) (*BlobStore, error) {
	if cfg == nil || cfg.Endpoint == "" {
		return nil, fmt.Errorf("blob store config missing endpoint")
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("blob store client: %w", err)
	}
	s := &BlobStore{client: mc, bucket: cfg.Bucket}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mc.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		exists, xerr := mc.BucketExists(ctx, s.bucket)
		if xerr != nil || !exists {
			return nil, fmt.Errorf("blob store bucket ensure: %w", err)
		}
	}
	return s, nil
}

// Put uploads data under key.
func (s *BlobStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{ContentType: contentType})
	return err
}

// Get downloads the object stored under key. Returns (nil, false, nil) when
// the key does not exist so callers can treat a miss as ordinary control
// flow rather than an error.
func (s *BlobStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, false, err
	}
	defer obj.Close()
	if _, err := obj.Stat(); err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// GetRange downloads only [start, end) of the object, for byte-range package
// fetches and deferred-bundle range resolution.
func (s *BlobStore) GetRange(ctx context.Context, key string, start, end int64) ([]byte, bool, error) {
	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(start, end-1); err != nil {
		return nil, false, fmt.Errorf("set range: %w", err)
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, opts)
	if err != nil {
		return nil, false, err
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// Delete removes an object; a missing object is not an error.
func (s *BlobStore) Delete(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

// DeletePrefix removes every object whose key starts with prefix, used for
// wholesale cache-version eviction.
func (s *BlobStore) DeletePrefix(ctx context.Context, prefix string) error {
	objCh := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true})
	for obj := range objCh {
		if obj.Err != nil {
			return obj.Err
		}
		if err := s.Delete(ctx, obj.Key); err != nil {
			return err
		}
	}
	return nil
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket"
}
