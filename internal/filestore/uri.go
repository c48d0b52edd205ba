package filestore

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/koustreak/driftbox/internal/errs"
)

// Scheme prefixes an object storage location.
const Scheme = "s3://"

// MaxObjectSize caps how much of an object ReadURI loads. Scripts and
// snapshots are small; anything larger is almost certainly the wrong key.
const MaxObjectSize = 16 << 20

// IsURI reports whether s names an object storage location.
func IsURI(s string) bool {
	return strings.HasPrefix(s, Scheme)
}

// ParseURI splits "s3://bucket/key" into its parts. "s3:///key" (empty
// bucket) resolves against defaultBucket.
func ParseURI(uri, defaultBucket string) (bucket, key string, err error) {
	if !IsURI(uri) {
		return "", "", errs.Newf(errs.ErrKindInvalidInput, "not an object storage URI: %q", uri)
	}
	rest := strings.TrimPrefix(uri, Scheme)
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" {
		bucket = defaultBucket
	}
	if bucket == "" || key == "" {
		return "", "", errs.Newf(errs.ErrKindInvalidInput, "object storage URI %q needs a bucket and a key", uri)
	}
	return bucket, key, nil
}

// ReadURI fetches the whole object named by uri.
func ReadURI(ctx context.Context, store Store, uri, defaultBucket string) ([]byte, error) {
	bucket, key, err := ParseURI(uri, defaultBucket)
	if err != nil {
		return nil, err
	}

	obj, err := store.GetObject(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	if info := obj.Info(); info != nil && info.Size > MaxObjectSize {
		return nil, errs.Newf(errs.ErrKindInvalidInput, "%s is %d bytes, limit is %d", uri, info.Size, MaxObjectSize)
	}

	data, err := io.ReadAll(io.LimitReader(obj, MaxObjectSize+1))
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, fmt.Sprintf("read %s", uri), err)
	}
	if len(data) > MaxObjectSize {
		return nil, errs.Newf(errs.ErrKindInvalidInput, "%s exceeds %d bytes", uri, MaxObjectSize)
	}
	return data, nil
}
