package introspect

import (
	"bytes"
	"context"
	"os"

	"github.com/koustreak/driftbox/internal/errs"
	"github.com/koustreak/driftbox/internal/filestore"
	"github.com/koustreak/driftbox/internal/schema"
	"github.com/koustreak/driftbox/internal/sqlexpr"
)

type snapshotHandle struct {
	uri    string
	store  filestore.Store
	bucket string
}

// Schema reloads the snapshot on every call so edits are picked up.
func (h *snapshotHandle) Schema(ctx context.Context) (*schema.DatabaseSchema, error) {
	data, err := h.read(ctx)
	if err != nil {
		return nil, errs.Rekind(errs.ErrKindIntrospection, "read snapshot "+h.uri, err)
	}
	s, err := schema.DecodeSnapshot(bytes.NewReader(data), schema.FormatFromPath(h.uri))
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindIntrospection, "decode snapshot "+h.uri, err)
	}
	return sqlexpr.NormalizeSchema(s), nil
}

func (h *snapshotHandle) read(ctx context.Context) ([]byte, error) {
	if filestore.IsURI(h.uri) {
		return filestore.ReadURI(ctx, h.store, h.uri, h.bucket)
	}
	data, err := os.ReadFile(h.uri)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.Wrap(errs.ErrKindNotFound, "snapshot not found", err)
		}
		return nil, err
	}
	return data, nil
}

// Static is a Handle over an in-memory schema.
type Static struct {
	S *schema.DatabaseSchema
}

func (h Static) Schema(context.Context) (*schema.DatabaseSchema, error) {
	return h.S.Clone(), nil
}
