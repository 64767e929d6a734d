package store

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recapbook/api/internal/client"
	"github.com/recapbook/api/internal/model"
)

// memBucket is an in-memory client.StorageClient
type memBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemBucket() *memBucket {
	return &memBucket{objects: make(map[string][]byte)}
}

func (b *memBucket) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = data
	return b.GetPublicURL(key), nil
}

func (b *memBucket) Download(ctx context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, client.ErrObjectNotFound
	}
	return bytes.Clone(data), nil
}

func (b *memBucket) Exists(ctx context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[key]
	return ok, nil
}

func (b *memBucket) List(ctx context.Context, prefix string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var keys []string
	for k := range b.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (b *memBucket) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

func (b *memBucket) GetSignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return b.GetPublicURL(key) + "?signed", nil
}

func (b *memBucket) GetPublicURL(key string) string {
	return "https://cdn.test/" + key
}

func TestR2Store_Layout(t *testing.T) {
	bucket := newMemBucket()
	s := NewR2Store(bucket, "/runs/")
	ctx := context.Background()

	require.NoError(t, s.PutSource(ctx, "r1", []model.SourceItem{{ID: "a"}}))
	require.NoError(t, s.AddMedia(ctx, "r1", "b.jpg", strings.NewReader("b")))
	require.NoError(t, s.AddMedia(ctx, "r1", "a.jpg", strings.NewReader("a")))
	require.NoError(t, s.PutMarker(ctx, "r1", MarkerFormat, "html"))
	require.NoError(t, s.PutDocument(ctx, "r1", model.FormatHTML, DocFinal, []byte("{}")))

	assert.Contains(t, bucket.objects, "runs/r1/source.json")
	assert.Contains(t, bucket.objects, "runs/r1/media/a.jpg")
	assert.Contains(t, bucket.objects, "runs/r1/format")
	assert.Contains(t, bucket.objects, "runs/r1/documents/html.json")

	media, err := s.ListMedia(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, media, 2)
	assert.Equal(t, "a.jpg", media[0].Key)
	assert.Equal(t, "https://cdn.test/runs/r1/media/a.jpg", media[0].URL)

	format, err := s.GetMarker(ctx, "r1", MarkerFormat)
	require.NoError(t, err)
	assert.Equal(t, "html", format)

	assert.Equal(t, "https://cdn.test/runs/r1/documents/html.json", s.Locator("r1", model.FormatHTML, DocFinal))
}

func TestR2Store_MissingObjects(t *testing.T) {
	s := NewR2Store(newMemBucket(), "")
	ctx := context.Background()

	_, err := s.LoadSource(ctx, "r1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetDocument(ctx, "r1", model.FormatJSON, DocFinal)
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err := s.SourceExists(ctx, "r1")
	require.NoError(t, err)
	assert.False(t, ok)
}
