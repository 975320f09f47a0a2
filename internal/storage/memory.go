package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps objects in process memory. It backs the test profile and
// local runs without an S3 endpoint.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

type memoryObject struct {
	data     []byte
	etag     string
	modified time.Time
	metadata map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: map[string]memoryObject{}}
}

func (m *MemoryStore) Put(_ context.Context, key string, body io.Reader, _ int64, opts PutOptions) (ObjectInfo, error) {
	if strings.TrimSpace(key) == "" {
		return ObjectInfo{}, fmt.Errorf("object key is required")
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("read object body: %w", err)
	}
	sum := md5.Sum(data)
	object := memoryObject{data: data, etag: hex.EncodeToString(sum[:]), modified: time.Now().UTC(), metadata: maps.Clone(opts.Metadata)}

	m.mu.Lock()
	m.objects[key] = object
	m.mu.Unlock()
	return object.info(key), nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	object, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(object.data)), nil
}

func (m *MemoryStore) Stat(_ context.Context, key string) (ObjectInfo, error) {
	m.mu.RLock()
	object, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return ObjectInfo{}, ErrObjectNotFound
	}
	return object.info(key), nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) DeleteMany(_ context.Context, keys []string) error {
	m.mu.Lock()
	for _, key := range keys {
		delete(m.objects, key)
	}
	m.mu.Unlock()
	return nil
}

// Metadata returns the user metadata stored with key.
func (m *MemoryStore) Metadata(key string) (map[string]string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	object, ok := m.objects[key]
	if !ok {
		return nil, false
	}
	return maps.Clone(object.metadata), true
}

func (m *MemoryStore) List(_ context.Context, prefix string) ([]ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]ObjectInfo, 0)
	for key, object := range m.objects {
		if strings.HasPrefix(key, prefix) {
			infos = append(infos, object.info(key))
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

func (o memoryObject) info(key string) ObjectInfo {
	return ObjectInfo{Key: key, Size: int64(len(o.data)), ETag: o.etag, LastModified: o.modified}
}
