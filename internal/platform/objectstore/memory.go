package objectstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/halcyonsky/astropipe-backend/internal/pkg/apperr"
)

// MemoryStore is an in-process Store used by tests and local development.
// It honors the same error contract as the GCS-backed store, and can inject
// failures per operation via FailNext.
type MemoryStore struct {
	mu        sync.RWMutex
	objects   map[string][]byte
	updated   map[string]time.Time
	failNext  map[string]error
	failMatch map[string]matchFailure
}

type matchFailure struct {
	substr string
	err    error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects:   map[string][]byte{},
		updated:   map[string]time.Time{},
		failNext:  map[string]error{},
		failMatch: map[string]matchFailure{},
	}
}

// FailNext arms a one-shot failure for the named operation ("put", "get",
// "delete", "list", "copy"). The next call of that operation consumes it.
func (m *MemoryStore) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext[op] = err
}

// FailNextMatch arms a one-shot failure consumed by the next call of op
// whose bucket/key contains substr. Calls on other keys pass through.
func (m *MemoryStore) FailNextMatch(op, substr string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failMatch[op] = matchFailure{substr: substr, err: err}
}

func (m *MemoryStore) takeFailure(op string, keys ...string) error {
	if err, ok := m.failNext[op]; ok {
		delete(m.failNext, op)
		return err
	}
	if f, ok := m.failMatch[op]; ok {
		for _, k := range keys {
			if strings.Contains(k, f.substr) {
				delete(m.failMatch, op)
				return f.err
			}
		}
	}
	return nil
}

func objKey(bucket, key string) string { return bucket + "/" + key }

func (m *MemoryStore) Put(ctx context.Context, bucket, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("put", objKey(bucket, key)); err != nil {
		return apperr.Store(fmt.Sprintf("put %s/%s", bucket, key), err)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.objects[objKey(bucket, key)] = cp
	m.updated[objKey(bucket, key)] = time.Now()
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("get", objKey(bucket, key)); err != nil {
		return nil, apperr.Store(fmt.Sprintf("get %s/%s", bucket, key), err)
	}
	data, ok := m.objects[objKey(bucket, key)]
	if !ok {
		return nil, apperr.NotFound(fmt.Sprintf("get %s/%s", bucket, key), nil)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (m *MemoryStore) Exists(ctx context.Context, bucket, key string) bool {
	info, err := m.Head(ctx, bucket, key)
	return err == nil && info != nil
}

func (m *MemoryStore) Head(ctx context.Context, bucket, key string) (*ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[objKey(bucket, key)]
	if !ok {
		return nil, apperr.NotFound(fmt.Sprintf("head %s/%s", bucket, key), nil)
	}
	return &ObjectInfo{
		Bucket:  bucket,
		Key:     key,
		Size:    int64(len(data)),
		Updated: m.updated[objKey(bucket, key)],
	}, nil
}

func (m *MemoryStore) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("list", objKey(bucket, prefix)); err != nil {
		return nil, apperr.Store(fmt.Sprintf("list %s/%s", bucket, prefix), err)
	}
	keys := []string{}
	full := objKey(bucket, prefix)
	for k := range m.objects {
		if strings.HasPrefix(k, full) && strings.HasPrefix(k, bucket+"/") {
			keys = append(keys, strings.TrimPrefix(k, bucket+"/"))
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryStore) Delete(ctx context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("delete", objKey(bucket, key)); err != nil {
		return apperr.Store(fmt.Sprintf("delete %s/%s", bucket, key), err)
	}
	if _, ok := m.objects[objKey(bucket, key)]; !ok {
		return apperr.NotFound(fmt.Sprintf("delete %s/%s", bucket, key), nil)
	}
	delete(m.objects, objKey(bucket, key))
	delete(m.updated, objKey(bucket, key))
	return nil
}

func (m *MemoryStore) Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("copy", objKey(srcBucket, srcKey), objKey(dstBucket, dstKey)); err != nil {
		return apperr.Store(fmt.Sprintf("copy %s/%s", srcBucket, srcKey), err)
	}
	data, ok := m.objects[objKey(srcBucket, srcKey)]
	if !ok {
		return apperr.NotFound(fmt.Sprintf("copy %s/%s", srcBucket, srcKey), nil)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.objects[objKey(dstBucket, dstKey)] = cp
	m.updated[objKey(dstBucket, dstKey)] = time.Now()
	return nil
}

func (m *MemoryStore) PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.objects[objKey(bucket, key)]; !ok {
		return "", apperr.NotFound(fmt.Sprintf("presign %s/%s", bucket, key), nil)
	}
	expires := time.Now().Add(ttl).Unix()
	return fmt.Sprintf("memory://%s/%s?expires=%d", bucket, key, expires), nil
}
