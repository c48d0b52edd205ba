package filestore

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/driftbox/internal/errs"
)

type memObject struct {
	io.Reader
	info *ObjectInfo
}

func (o *memObject) Close() error      { return nil }
func (o *memObject) Info() *ObjectInfo { return o.info }

type memStore struct {
	objects map[string]string
}

func (m *memStore) Ping(context.Context) error { return nil }
func (m *memStore) Close() error               { return nil }

func (m *memStore) GetObject(_ context.Context, bucket, key string) (Object, error) {
	body, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, errs.New(errs.ErrKindNotFound, "no such key")
	}
	return &memObject{Reader: strings.NewReader(body), info: &ObjectInfo{Key: key, Size: int64(len(body))}}, nil
}

func (m *memStore) StatObject(ctx context.Context, bucket, key string) (*ObjectInfo, error) {
	obj, err := m.GetObject(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	return obj.Info(), nil
}

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri     string
		bucket  string
		key     string
		wantErr bool
	}{
		{"s3://scripts/2024/001.sql", "scripts", "2024/001.sql", false},
		{"s3:///001.sql", "default", "001.sql", false},
		{"s3://scripts", "", "", true},
		{"s3://scripts/", "", "", true},
		{"/tmp/001.sql", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, key, err := ParseURI(tt.uri, "default")
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errs.IsInvalidInput(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.bucket, bucket)
			assert.Equal(t, tt.key, key)
		})
	}
}

func TestReadURI(t *testing.T) {
	store := &memStore{objects: map[string]string{"scripts/a.sql": "SELECT 1;"}}

	data, err := ReadURI(context.Background(), store, "s3://scripts/a.sql", "")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1;", string(data))

	_, err = ReadURI(context.Background(), store, "s3://scripts/missing.sql", "")
	assert.True(t, errs.IsNotFound(err))
}

func TestIsURI(t *testing.T) {
	assert.True(t, IsURI("s3://b/k"))
	assert.False(t, IsURI("schema.yaml"))
}
