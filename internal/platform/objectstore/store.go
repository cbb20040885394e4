// Package objectstore adapts a blob backend to the bucket+key operations the
// pipeline needs. The production implementation rides the GCS client; tests
// and local mode use the in-memory implementation.
package objectstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/halcyonsky/astropipe-backend/internal/pkg/apperr"
)

// DefaultURIScheme is the scheme token expected in object URIs unless
// STORE_URI_SCHEME overrides it.
const DefaultURIScheme = "s3"

// ObjectInfo describes a stored blob.
type ObjectInfo struct {
	Bucket  string
	Key     string
	Size    int64
	Updated time.Time
}

// Store is the object store adapter. Integrity is the caller's concern; no
// checksumming happens here. Every failure surfaces as apperr.KindStore with
// the transport cause preserved.
type Store interface {
	Put(ctx context.Context, bucket, key string, data []byte) error
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	// Exists returns false both on not-found and on transport error.
	// Callers that must distinguish absence from failure use Head.
	Exists(ctx context.Context, bucket, key string) bool
	// Head returns object metadata, apperr.KindNotFound for absent keys, or
	// apperr.KindStore on transport failure.
	Head(ctx context.Context, bucket, key string) (*ObjectInfo, error)
	List(ctx context.Context, bucket, prefix string) ([]string, error)
	Delete(ctx context.Context, bucket, key string) error
	Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

// URI is a parsed scheme://bucket/key locator.
type URI struct {
	Scheme string
	Bucket string
	Key    string
}

func (u URI) String() string {
	return fmt.Sprintf("%s://%s/%s", u.Scheme, u.Bucket, u.Key)
}

// ParseURI splits scheme://bucket/key. The scheme must match expectedScheme
// (DefaultURIScheme when empty) and the key is everything after the first
// slash following the bucket.
func ParseURI(raw, expectedScheme string) (URI, error) {
	if expectedScheme == "" {
		expectedScheme = DefaultURIScheme
	}
	raw = strings.TrimSpace(raw)
	idx := strings.Index(raw, "://")
	if idx < 0 {
		return URI{}, apperr.Validation(fmt.Sprintf("object URI %q missing ://", raw), nil)
	}
	scheme := raw[:idx]
	if scheme != expectedScheme {
		return URI{}, apperr.Validation(
			fmt.Sprintf("object URI scheme %q, expected %q", scheme, expectedScheme), nil)
	}
	rest := raw[idx+3:]
	slash := strings.Index(rest, "/")
	if slash <= 0 || slash == len(rest)-1 {
		return URI{}, apperr.Validation(fmt.Sprintf("object URI %q missing bucket or key", raw), nil)
	}
	return URI{Scheme: scheme, Bucket: rest[:slash], Key: rest[slash+1:]}, nil
}

// GetURI is the URI overload of Get.
func GetURI(ctx context.Context, s Store, raw, scheme string) ([]byte, error) {
	u, err := ParseURI(raw, scheme)
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, u.Bucket, u.Key)
}

// PutURI is the URI overload of Put.
func PutURI(ctx context.Context, s Store, raw, scheme string, data []byte) error {
	u, err := ParseURI(raw, scheme)
	if err != nil {
		return err
	}
	return s.Put(ctx, u.Bucket, u.Key, data)
}

// DeleteURI is the URI overload of Delete.
func DeleteURI(ctx context.Context, s Store, raw, scheme string) error {
	u, err := ParseURI(raw, scheme)
	if err != nil {
		return err
	}
	return s.Delete(ctx, u.Bucket, u.Key)
}

// SplitPath splits a "bucket/key" path at the first slash.
func SplitPath(full string) (bucket, key string, err error) {
	full = strings.TrimSpace(strings.TrimPrefix(full, "/"))
	slash := strings.Index(full, "/")
	if slash <= 0 || slash == len(full)-1 {
		return "", "", apperr.Validation(fmt.Sprintf("path %q is not bucket/key", full), nil)
	}
	return full[:slash], full[slash+1:], nil
}
