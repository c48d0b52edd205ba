package filestore

import (
	"io"
	"time"
)

// ObjectInfo describes a single stored object.
type ObjectInfo struct {
	Key          string
	Size         int64 // -1 if unknown
	ContentType  string
	ETag         string
	LastModified time.Time
}

// Object is a streaming handle to an object's content.
// The caller MUST call Close() after reading to avoid resource leaks.
type Object interface {
	io.ReadCloser

	// Info returns the metadata for this object.
	Info() *ObjectInfo
}
