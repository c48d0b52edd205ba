package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"
)

// Format is the encoding of a schema snapshot.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFromPath picks the snapshot format from a file extension.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	default:
		return FormatYAML
	}
}

// DecodeSnapshot reads a DatabaseSchema from r.
func DecodeSnapshot(r io.Reader, format Format) (*DatabaseSchema, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	s := New()
	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, s)
	default:
		err = yaml.Unmarshal(data, s)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s snapshot: %w", format, err)
	}
	return s.Normalize(), nil
}

// LoadSnapshot reads a DatabaseSchema from a YAML or JSON file.
func LoadSnapshot(path string) (*DatabaseSchema, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()
	return DecodeSnapshot(f, FormatFromPath(path))
}

// EncodeSnapshot writes s to w.
func EncodeSnapshot(w io.Writer, s *DatabaseSchema, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	default:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(s); err != nil {
			return fmt.Errorf("encode yaml snapshot: %w", err)
		}
		if err := enc.Close(); err != nil {
			return err
		}
		_, err := w.Write(buf.Bytes())
		return err
	}
}

// WriteSnapshot writes s to path, choosing the format from its extension.
func WriteSnapshot(path string, s *DatabaseSchema) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	if err := EncodeSnapshot(f, s, FormatFromPath(path)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
