package directory

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"

	"github.com/fl-coordination/fabric/pkg/wire"
)

// BlobStore persists model payloads as content-addressed
// <model_id>.blob files, mirroring pseudo_db.py's
// "<model_id>.binaryfile" convention (cbor replaces pickle).
type BlobStore struct {
	dir string
}

func NewBlobStore(dir string) (*BlobStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("directory: create blob dir: %w", err)
	}
	return &BlobStore{dir: dir}, nil
}

func (b *BlobStore) path(modelID string) string {
	return filepath.Join(b.dir, modelID+".blob")
}

func (b *BlobStore) Write(modelID string, models wire.ModelDict) error {
	data, err := cbor.Marshal(models)
	if err != nil {
		return fmt.Errorf("directory: encode model blob: %w", err)
	}
	if err := os.WriteFile(b.path(modelID), data, 0o644); err != nil {
		return fmt.Errorf("directory: write model blob: %w", err)
	}
	return nil
}

func (b *BlobStore) Read(modelID string) (wire.ModelDict, error) {
	data, err := os.ReadFile(b.path(modelID))
	if err != nil {
		return nil, fmt.Errorf("directory: read model blob: %w", err)
	}
	var models wire.ModelDict
	if err := cbor.Unmarshal(data, &models); err != nil {
		return nil, fmt.Errorf("directory: decode model blob: %w", err)
	}
	return models, nil
}
