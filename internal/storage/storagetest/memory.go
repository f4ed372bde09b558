// RubinTV - Live display service for observatory camera artifacts
// SPDX-License-Identifier: GPL-3.0-or-later
// https://github.com/lsst-ts/rubintv

// Package storagetest provides an in-memory storage.Client for tests.
package storagetest

import (
	"bytes"
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/lsst-ts/rubintv/internal/storage"
)

// MemoryClient is a storage.Client backed by a map. Hashes follow the S3
// convention of an MD5 ETag so hash-change detection behaves like the
// real store.
type MemoryClient struct {
	mu      sync.RWMutex
	bucket  string
	objects map[string][]byte
	hashes  map[string]string

	// ListErr, when set, fails every ListObjects call.
	ListErr error
	// ListCalls counts ListObjects invocations.
	ListCalls int
}

// NewMemoryClient creates an empty in-memory bucket.
func NewMemoryClient(bucket string) *MemoryClient {
	return &MemoryClient{
		bucket:  bucket,
		objects: make(map[string][]byte),
		hashes:  make(map[string]string),
	}
}

// Put stores an object; the hash is derived from the body.
func (m *MemoryClient) Put(key string, body []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), body...)
	m.hashes[key] = fmt.Sprintf("%x", md5.Sum(body))
}

// PutJSON stores v encoded as JSON.
func (m *MemoryClient) PutJSON(key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	m.Put(key, data)
}

// Delete removes an object.
func (m *MemoryClient) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	delete(m.hashes, key)
}

// Bucket returns the bucket name.
func (m *MemoryClient) Bucket() string { return m.bucket }

// ListObjects returns all objects under prefix in key order.
func (m *MemoryClient) ListObjects(_ context.Context, prefix string) ([]storage.Object, error) {
	m.mu.Lock()
	m.ListCalls++
	err := m.ListErr
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []storage.Object
	for key := range m.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, storage.Object{Key: key, Hash: m.hashes[key]})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// GetJSON decodes a stored object; missing keys are (nil, nil).
func (m *MemoryClient) GetJSON(_ context.Context, key string) (map[string]any, error) {
	m.mu.RLock()
	body, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", key, err)
	}
	return decoded, nil
}

// GetObject opens a stored body, honoring bytes=start-end range specs.
func (m *MemoryClient) GetObject(_ context.Context, key, rangeSpec string) (*storage.ObjectStream, error) {
	m.mu.RLock()
	body, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
	}

	contentType := contentTypeFor(key)
	if rangeSpec == "" {
		return &storage.ObjectStream{
			Body:          io.NopCloser(bytes.NewReader(body)),
			ContentType:   contentType,
			ContentLength: int64(len(body)),
		}, nil
	}

	start, end, err := parseRange(rangeSpec, len(body))
	if err != nil {
		return nil, err
	}
	part := body[start : end+1]
	return &storage.ObjectStream{
		Body:          io.NopCloser(bytes.NewReader(part)),
		ContentType:   contentType,
		ContentLength: int64(len(part)),
		ContentRange:  fmt.Sprintf("bytes %d-%d/%d", start, end, len(body)),
	}, nil
}

// PresignURL returns a deterministic fake URL.
func (m *MemoryClient) PresignURL(_ context.Context, key string) (string, error) {
	return "https://presigned.test/" + m.bucket + "/" + key, nil
}

func parseRange(spec string, size int) (start, end int, err error) {
	raw, ok := strings.CutPrefix(spec, "bytes=")
	if !ok {
		return 0, 0, fmt.Errorf("unsupported range %q", spec)
	}
	first, last, ok := strings.Cut(raw, "-")
	if !ok {
		return 0, 0, fmt.Errorf("unsupported range %q", spec)
	}
	start, err = strconv.Atoi(first)
	if err != nil || start < 0 || start >= size {
		return 0, 0, fmt.Errorf("unsatisfiable range %q", spec)
	}
	if last == "" {
		return start, size - 1, nil
	}
	end, err = strconv.Atoi(last)
	if err != nil || end < start {
		return 0, 0, fmt.Errorf("unsatisfiable range %q", spec)
	}
	if end >= size {
		end = size - 1
	}
	return start, end, nil
}

func contentTypeFor(key string) string {
	switch {
	case strings.HasSuffix(key, ".jpg"), strings.HasSuffix(key, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(key, ".png"):
		return "image/png"
	case strings.HasSuffix(key, ".mp4"):
		return "video/mp4"
	case strings.HasSuffix(key, ".json"):
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
