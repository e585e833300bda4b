package blobstore

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"wadispatch/internal/errors"

	"github.com/sirupsen/logrus"
)

type memoryObject struct {
	data        []byte
	contentType string
	modified    time.Time
}

// MemoryStore keeps blobs in process. Used for DRY_RUN without a bucket and in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	bucket  string
	objects map[string]memoryObject
	logger  *logrus.Logger
	now     func() time.Time
}

func NewMemoryStore(bucket string, logger *logrus.Logger) *MemoryStore {
	if logger == nil {
		logger = logrus.New()
	}
	return &MemoryStore{
		bucket:  bucket,
		objects: make(map[string]memoryObject),
		logger:  logger,
		now:     time.Now,
	}
}

func (m *MemoryStore) Bucket() string {
	return m.bucket
}

func (m *MemoryStore) Put(_ context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	m.objects[key] = memoryObject{data: buf, contentType: contentType, modified: m.now()}
	return nil
}

func (m *MemoryStore) Head(_ context.Context, key string) (*Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, notFoundKey(key)
	}
	return &Object{Key: key, Size: int64(len(obj.data)), ContentType: obj.contentType, LastModified: obj.modified}, nil
}

func (m *MemoryStore) List(_ context.Context, prefix string, maxKeys int) ([]Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0)
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if maxKeys > 0 && len(keys) > maxKeys {
		keys = keys[:maxKeys]
	}

	out := make([]Object, 0, len(keys))
	for _, k := range keys {
		obj := m.objects[k]
		out = append(out, Object{Key: k, Size: int64(len(obj.data)), ContentType: obj.contentType, LastModified: obj.modified})
	}
	return out, nil
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, "", notFoundKey(key)
	}
	buf := make([]byte, len(obj.data))
	copy(buf, obj.data)
	return buf, obj.contentType, nil
}

func (m *MemoryStore) PresignGet(_ context.Context, key string, expiry time.Duration) (string, error) {
	if _, err := m.Head(context.Background(), key); err != nil {
		return "", err
	}
	return fmt.Sprintf("memory://%s/%s?expires=%d", m.bucket, url.PathEscape(key), m.now().Add(expiry).Unix()), nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *MemoryStore) ResolveActual(ctx context.Context, expectedKey string) (string, error) {
	return resolveActual(ctx, m, expectedKey, m.logger)
}

// Rename moves an object, the way the provider suffixes keys it writes.
func (m *MemoryStore) Rename(from, to string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[from]
	if !ok {
		return false
	}
	delete(m.objects, from)
	m.objects[to] = obj
	return true
}

// Keys lists every stored key in order.
func (m *MemoryStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func notFoundKey(key string) error {
	return errors.New(errors.ErrCodeNotFound, ErrObjectNotFound.Message).WithContext("key", key)
}
