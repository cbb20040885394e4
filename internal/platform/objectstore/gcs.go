package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/halcyonsky/astropipe-backend/internal/pkg/apperr"
	"github.com/halcyonsky/astropipe-backend/internal/platform/logger"
)

const (
	gcsOpTimeout   = 2 * time.Minute
	gcsMetaTimeout = 30 * time.Second
)

type gcsStore struct {
	log    *logger.Logger
	client *storage.Client
}

// NewGCSStore builds the production Store over the Cloud Storage client.
// STORAGE_EMULATOR_HOST is honored by the client itself; when set the store
// connects without credentials.
func NewGCSStore(ctx context.Context, log *logger.Logger) (Store, error) {
	var opts []option.ClientOption
	if host := strings.TrimSpace(os.Getenv("STORAGE_EMULATOR_HOST")); host != "" {
		opts = append(opts, option.WithoutAuthentication())
	} else {
		opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &gcsStore{
		log:    log.With("component", "ObjectStore"),
		client: client,
	}, nil
}

func (s *gcsStore) Put(ctx context.Context, bucket, key string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, gcsOpTimeout)
	defer cancel()
	w := s.client.Bucket(bucket).Object(key).NewWriter(ctx)
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return apperr.Store(fmt.Sprintf("put %s/%s", bucket, key), err)
	}
	if err := w.Close(); err != nil {
		return apperr.Store(fmt.Sprintf("put %s/%s (close)", bucket, key), err)
	}
	return nil
}

func (s *gcsStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, gcsOpTimeout)
	defer cancel()
	r, err := s.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, apperr.NotFound(fmt.Sprintf("get %s/%s", bucket, key), err)
		}
		return nil, apperr.Store(fmt.Sprintf("get %s/%s", bucket, key), err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, apperr.Store(fmt.Sprintf("get %s/%s (read)", bucket, key), err)
	}
	return data, nil
}

func (s *gcsStore) Exists(ctx context.Context, bucket, key string) bool {
	info, err := s.Head(ctx, bucket, key)
	return err == nil && info != nil
}

func (s *gcsStore) Head(ctx context.Context, bucket, key string) (*ObjectInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, gcsMetaTimeout)
	defer cancel()
	attrs, err := s.client.Bucket(bucket).Object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, apperr.NotFound(fmt.Sprintf("head %s/%s", bucket, key), err)
		}
		return nil, apperr.Store(fmt.Sprintf("head %s/%s", bucket, key), err)
	}
	return &ObjectInfo{
		Bucket:  bucket,
		Key:     key,
		Size:    attrs.Size,
		Updated: attrs.Updated,
	}, nil
}

func (s *gcsStore) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, gcsMetaTimeout)
	defer cancel()
	it := s.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	keys := []string{}
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, apperr.Store(fmt.Sprintf("list %s/%s", bucket, prefix), err)
		}
		keys = append(keys, attrs.Name)
	}
	return keys, nil
}

func (s *gcsStore) Delete(ctx context.Context, bucket, key string) error {
	ctx, cancel := context.WithTimeout(ctx, gcsMetaTimeout)
	defer cancel()
	if err := s.client.Bucket(bucket).Object(key).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return apperr.NotFound(fmt.Sprintf("delete %s/%s", bucket, key), err)
		}
		return apperr.Store(fmt.Sprintf("delete %s/%s", bucket, key), err)
	}
	return nil
}

func (s *gcsStore) Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	ctx, cancel := context.WithTimeout(ctx, gcsOpTimeout)
	defer cancel()
	src := s.client.Bucket(srcBucket).Object(srcKey)
	dst := s.client.Bucket(dstBucket).Object(dstKey)
	if _, err := dst.CopierFrom(src).Run(ctx); err != nil {
		return apperr.Store(fmt.Sprintf("copy %s/%s -> %s/%s", srcBucket, srcKey, dstBucket, dstKey), err)
	}
	return nil
}

func (s *gcsStore) PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	url, err := s.client.Bucket(bucket).SignedURL(key, &storage.SignedURLOptions{
		Method:  "GET",
		Expires: time.Now().Add(ttl),
		Scheme:  storage.SigningSchemeV4,
	})
	if err != nil {
		return "", apperr.Store(fmt.Sprintf("presign %s/%s", bucket, key), err)
	}
	return url, nil
}
