package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/recapbook/api/internal/model"
)

// FSStore keeps artifacts on the local filesystem:
//
//	<root>/<id>/source.json
//	<root>/<id>/media/<file>
//	<root>/<id>/style, <root>/<id>/format
//	<root>/<id>/documents/<format>.json
//	<root>/<id>/documents/<format>.placeholder.json
type FSStore struct {
	root string
}

func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) dir(id string, parts ...string) (string, error) {
	if err := CheckID(id); err != nil {
		return "", err
	}
	return filepath.Join(append([]string{s.root, id}, parts...)...), nil
}

// writeAtomic writes to a hidden temp file in the target directory and
// renames it into place.
func writeAtomic(path string, r io.Reader) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (s *FSStore) PutSource(ctx context.Context, ref string, items []model.SourceItem) error {
	path, err := s.dir(ref, "source.json")
	if err != nil {
		return err
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to marshal source: %w", err)
	}
	return writeAtomic(path, strings.NewReader(string(data)))
}

func (s *FSStore) SourceExists(ctx context.Context, ref string) (bool, error) {
	path, err := s.dir(ref, "source.json")
	if err != nil {
		return false, err
	}
	return exists(path)
}

func (s *FSStore) LoadSource(ctx context.Context, ref string) ([]model.SourceItem, error) {
	path, err := s.dir(ref, "source.json")
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var items []model.SourceItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to decode source: %w", err)
	}
	return items, nil
}

func (s *FSStore) AddMedia(ctx context.Context, ref, name string, body io.Reader) error {
	if err := CheckID(name); err != nil {
		return err
	}
	path, err := s.dir(ref, "media", name)
	if err != nil {
		return err
	}
	return writeAtomic(path, body)
}

// ListMedia returns the pool sorted by file name, skipping in-flight writes.
func (s *FSStore) ListMedia(ctx context.Context, ref string) ([]model.MediaRef, error) {
	dir, err := s.dir(ref, "media")
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var refs []model.MediaRef
	for _, e := range entries {
		if e.IsDir() || partial(e.Name()) {
			continue
		}
		refs = append(refs, model.MediaRef{
			Key: e.Name(),
			URL: filepath.Join(dir, e.Name()),
		})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Key < refs[j].Key })
	return refs, nil
}

func (s *FSStore) PutMarker(ctx context.Context, runID, name, value string) error {
	if err := CheckID(name); err != nil {
		return err
	}
	path, err := s.dir(runID, name)
	if err != nil {
		return err
	}
	return writeAtomic(path, strings.NewReader(value))
}

func (s *FSStore) GetMarker(ctx context.Context, runID, name string) (string, error) {
	if err := CheckID(name); err != nil {
		return "", err
	}
	path, err := s.dir(runID, name)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *FSStore) PutDocument(ctx context.Context, runID string, format model.Format, kind DocKind, data []byte) error {
	path, err := s.dir(runID, "documents", documentName(format, kind))
	if err != nil {
		return err
	}
	return writeAtomic(path, strings.NewReader(string(data)))
}

func (s *FSStore) GetDocument(ctx context.Context, runID string, format model.Format, kind DocKind) ([]byte, error) {
	path, err := s.dir(runID, "documents", documentName(format, kind))
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (s *FSStore) DocumentExists(ctx context.Context, runID string, format model.Format, kind DocKind) (bool, error) {
	path, err := s.dir(runID, "documents", documentName(format, kind))
	if err != nil {
		return false, err
	}
	return exists(path)
}

func (s *FSStore) Locator(runID string, format model.Format, kind DocKind) string {
	path, err := s.dir(runID, "documents", documentName(format, kind))
	if err != nil {
		return ""
	}
	return path
}
