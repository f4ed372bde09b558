// RubinTV - Live display service for observatory camera artifacts
// SPDX-License-Identifier: GPL-3.0-or-later
// https://github.com/lsst-ts/rubintv

// Package storage abstracts the per-location object stores. Each observatory
// location maps to one bucket; the poller and historical cache only ever see
// the Client interface, so tests substitute an in-memory fake.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound marks a key that does not exist in the bucket.
var ErrNotFound = errors.New("storage: object not found")

// Object is one bucket entry: its key and the store's content hash (the
// ETag with quotes stripped). The hash is the change signal the pollers
// diff against; object bodies are only fetched on demand.
type Object struct {
	Key  string `json:"key"`
	Hash string `json:"hash"`
}

// ObjectStream is an open object body plus the response headers a proxy
// needs to forward. Callers must close Body.
type ObjectStream struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
	// ContentRange is set when the store satisfied a range request.
	ContentRange string
}

// Partial reports whether the stream carries a ranged (206) response.
func (s *ObjectStream) Partial() bool { return s.ContentRange != "" }

// Client is the read surface of one location's bucket.
type Client interface {
	// ListObjects returns every object under prefix, in key order.
	ListObjects(ctx context.Context, prefix string) ([]Object, error)

	// GetJSON fetches and decodes a JSON object. A missing key yields
	// (nil, nil): between a listing and the fetch the object may have
	// been removed, and that race is not an error.
	GetJSON(ctx context.Context, key string) (map[string]any, error)

	// GetObject opens the object body for streaming. rangeSpec is an
	// HTTP Range header value, or empty for the whole object. Missing
	// keys return ErrNotFound.
	GetObject(ctx context.Context, key, rangeSpec string) (*ObjectStream, error)

	// PresignURL returns a time-limited direct GET URL for the key.
	PresignURL(ctx context.Context, key string) (string, error)

	// Bucket names the underlying bucket, for logs.
	Bucket() string
}
