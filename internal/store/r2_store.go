package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/recapbook/api/internal/client"
	"github.com/recapbook/api/internal/model"
)

// R2Store keeps artifacts in an S3-compatible bucket using the same layout
// as FSStore under a key prefix.
type R2Store struct {
	client client.StorageClient
	prefix string
}

func NewR2Store(c client.StorageClient, prefix string) *R2Store {
	return &R2Store{client: c, prefix: strings.Trim(prefix, "/")}
}

func (s *R2Store) key(id string, parts ...string) (string, error) {
	if err := CheckID(id); err != nil {
		return "", err
	}
	return path.Join(append([]string{s.prefix, id}, parts...)...), nil
}

func (s *R2Store) get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Download(ctx, key)
	if errors.Is(err, client.ErrObjectNotFound) {
		return nil, ErrNotFound
	}
	return data, err
}

func (s *R2Store) PutSource(ctx context.Context, ref string, items []model.SourceItem) error {
	key, err := s.key(ref, "source.json")
	if err != nil {
		return err
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to marshal source: %w", err)
	}
	_, err = s.client.Upload(ctx, key, bytes.NewReader(data), "application/json")
	return err
}

func (s *R2Store) SourceExists(ctx context.Context, ref string) (bool, error) {
	key, err := s.key(ref, "source.json")
	if err != nil {
		return false, err
	}
	return s.client.Exists(ctx, key)
}

func (s *R2Store) LoadSource(ctx context.Context, ref string) ([]model.SourceItem, error) {
	key, err := s.key(ref, "source.json")
	if err != nil {
		return nil, err
	}
	data, err := s.get(ctx, key)
	if err != nil {
		return nil, err
	}
	var items []model.SourceItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to decode source: %w", err)
	}
	return items, nil
}

func (s *R2Store) AddMedia(ctx context.Context, ref, name string, body io.Reader) error {
	if err := CheckID(name); err != nil {
		return err
	}
	key, err := s.key(ref, "media", name)
	if err != nil {
		return err
	}
	_, err = s.client.Upload(ctx, key, body, "application/octet-stream")
	return err
}

func (s *R2Store) ListMedia(ctx context.Context, ref string) ([]model.MediaRef, error) {
	prefix, err := s.key(ref, "media")
	if err != nil {
		return nil, err
	}
	keys, err := s.client.List(ctx, prefix+"/")
	if err != nil {
		return nil, err
	}

	var refs []model.MediaRef
	for _, k := range keys {
		name := path.Base(k)
		if partial(name) {
			continue
		}
		refs = append(refs, model.MediaRef{Key: name, URL: s.client.GetPublicURL(k)})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Key < refs[j].Key })
	return refs, nil
}

func (s *R2Store) PutMarker(ctx context.Context, runID, name, value string) error {
	if err := CheckID(name); err != nil {
		return err
	}
	key, err := s.key(runID, name)
	if err != nil {
		return err
	}
	_, err = s.client.Upload(ctx, key, strings.NewReader(value), "text/plain")
	return err
}

func (s *R2Store) GetMarker(ctx context.Context, runID, name string) (string, error) {
	if err := CheckID(name); err != nil {
		return "", err
	}
	key, err := s.key(runID, name)
	if err != nil {
		return "", err
	}
	data, err := s.get(ctx, key)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *R2Store) PutDocument(ctx context.Context, runID string, format model.Format, kind DocKind, data []byte) error {
	key, err := s.key(runID, "documents", documentName(format, kind))
	if err != nil {
		return err
	}
	_, err = s.client.Upload(ctx, key, bytes.NewReader(data), "application/json")
	return err
}

func (s *R2Store) GetDocument(ctx context.Context, runID string, format model.Format, kind DocKind) ([]byte, error) {
	key, err := s.key(runID, "documents", documentName(format, kind))
	if err != nil {
		return nil, err
	}
	return s.get(ctx, key)
}

func (s *R2Store) DocumentExists(ctx context.Context, runID string, format model.Format, kind DocKind) (bool, error) {
	key, err := s.key(runID, "documents", documentName(format, kind))
	if err != nil {
		return false, err
	}
	return s.client.Exists(ctx, key)
}

func (s *R2Store) Locator(runID string, format model.Format, kind DocKind) string {
	key, err := s.key(runID, "documents", documentName(format, kind))
	if err != nil {
		return ""
	}
	return s.client.GetPublicURL(key)
}
