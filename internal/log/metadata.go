package log

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

const metadataFile = "metadata.json"

// metadata is the persisted state of a topic. Segments are not part of it;
// they are rediscovered from the directory on load.
type metadata struct {
	Name            string `json:"name"`
	BaseDirectory   string `json:"base_directory"`
	NextOffset      uint64 `json:"next_offset"`
	SegmentCapacity uint64 `json:"segment_capacity,omitempty"`
}

func metadataPath(dir string) string {
	return filepath.Join(dir, metadataFile)
}

// writeMetadata replaces the metadata file in dir. The new content is synced
// to a temporary file first and renamed over the old one.
func writeMetadata(dir string, md metadata) error {
	b, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return newError("persist metadata", ErrInvalidData, err)
	}

	tmp, err := os.CreateTemp(dir, metadataFile+".*")
	if err != nil {
		return ioError("persist metadata", err, "create temp file in %s", dir)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return ioError("persist metadata", err, "write %s", tmp.Name())
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return ioError("persist metadata", err, "sync %s", tmp.Name())
	}
	if err := tmp.Close(); err != nil {
		return ioError("persist metadata", err, "close %s", tmp.Name())
	}
	if err := os.Rename(tmp.Name(), metadataPath(dir)); err != nil {
		return ioError("persist metadata", err, "rename into %s", metadataPath(dir))
	}
	return nil
}

func readMetadata(dir string) (metadata, error) {
	var md metadata
	b, err := os.ReadFile(metadataPath(dir))
	if os.IsNotExist(err) {
		return md, newError("load", ErrNotFound, errors.Wrap(err, "metadata"))
	}
	if err != nil {
		return md, ioError("load", err, "read metadata")
	}
	if err := json.Unmarshal(b, &md); err != nil {
		return md, newError("load", ErrInvalidData, errors.Wrapf(err, "decode %s", metadataPath(dir)))
	}
	return md, nil
}
