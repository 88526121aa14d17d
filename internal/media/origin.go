// Package media implements C13: a periodic mirror of an authoritative blob
// origin (S3 or Azure Blob) into a local read-through cache.
package media

import (
	"context"
	"io"
)

// ObjectInfo is one origin object's identity for change detection.
type ObjectInfo struct {
	Key  string
	Size int64
	ETag string
}

// Origin abstracts the authoritative blob store. S3 (aws-sdk-go-v2) and
// Azure Blob (azblob) both satisfy it, selected by config's media.provider
// (§4.12 [EXPANDED]).
type Origin interface {
	// List enumerates every object under the origin, in no particular order.
	List(ctx context.Context) ([]ObjectInfo, error)
	// Open streams one object's contents.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}
