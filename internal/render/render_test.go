package render

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitchili/dynadoc-flow/internal/models"
)

type memoryStore struct {
	mu       sync.Mutex
	objects  map[string][]byte
	putErr   error
	afterPut func()
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: map[string][]byte{}}
}

func (m *memoryStore) Put(ctx context.Context, path string, r io.Reader) error {
	if m.putErr != nil {
		return m.putErr
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = content
	if m.afterPut != nil {
		m.afterPut()
	}
	return nil
}

func (m *memoryStore) Get(ctx context.Context, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.objects[path]
	if !ok {
		return nil, models.ErrNotFound
	}
	return content, nil
}

func (m *memoryStore) Delete(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[path]; !ok {
		return models.ErrNotFound
	}
	delete(m.objects, path)
	return nil
}

func newRenderer(t *testing.T, store ObjectStore) *Renderer {
	t.Helper()
	r, err := New(t.TempDir(), "files/", store)
	require.NoError(t, err)
	return r
}

func TestRender_ProducesValidPDF(t *testing.T) {
	r := newRenderer(t, newMemoryStore())

	html := "<h1>Contrato</h1><p>Olá <b>Ana</b>, ação concluída.</p><pagebreak><p>Página dois</p><pagebreak>"
	name, err := r.Render(context.Background(), "Contrato de Serviço", html)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(name, "contrato_de_servi_o_"), name)
	assert.True(t, strings.HasSuffix(name, ".pdf"), name)

	localPath := filepath.Join(r.TmpDir(), name)
	pages, err := api.PageCountFile(localPath)
	require.NoError(t, err)
	assert.Equal(t, 2, pages)

	// only the final artifact is left in the temp dir
	entries, err := os.ReadDir(r.TmpDir())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRender_EmptyDocumentHasOnePage(t *testing.T) {
	r := newRenderer(t, newMemoryStore())

	name, err := r.Render(context.Background(), "", "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(name, "document_"))

	pages, err := api.PageCountFile(filepath.Join(r.TmpDir(), name))
	require.NoError(t, err)
	assert.Equal(t, 1, pages)
}

func TestRender_UniqueNames(t *testing.T) {
	r := newRenderer(t, newMemoryStore())

	a, err := r.Render(context.Background(), "same", "<p>x</p>")
	require.NoError(t, err)
	b, err := r.Render(context.Background(), "same", "<p>x</p>")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestRender_CancelledContext(t *testing.T) {
	r := newRenderer(t, newMemoryStore())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Render(ctx, "x", "<p>x</p>")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUpload_MovesArtifactToStore(t *testing.T) {
	store := newMemoryStore()
	r := newRenderer(t, store)

	name, err := r.Render(context.Background(), "contract", "<p>Hello Ana</p>")
	require.NoError(t, err)

	path, err := r.Upload(context.Background(), name)
	require.NoError(t, err)
	assert.Equal(t, "files/"+name, path)

	_, statErr := os.Stat(filepath.Join(r.TmpDir(), name))
	assert.True(t, errors.Is(statErr, os.ErrNotExist), "temp copy must be removed")

	content, err := r.Download(context.Background(), path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(content, []byte("%PDF-")))
}

func TestUpload_ReturnsPathWhenTempCleanupFails(t *testing.T) {
	store := newMemoryStore()
	r := newRenderer(t, store)

	name, err := r.Render(context.Background(), "contract", "<p>x</p>")
	require.NoError(t, err)

	// a non-empty directory in place of the temp copy cannot be removed
	localPath := filepath.Join(r.TmpDir(), name)
	store.afterPut = func() {
		require.NoError(t, os.Remove(localPath))
		require.NoError(t, os.Mkdir(localPath, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(localPath, "keep"), []byte("x"), 0o644))
	}

	path, err := r.Upload(context.Background(), name)
	require.NoError(t, err)
	assert.Equal(t, "files/"+name, path)

	removed, err := r.Remove(context.Background(), path)
	require.NoError(t, err)
	assert.True(t, removed)
}

func TestUpload_MissingTempFile(t *testing.T) {
	r := newRenderer(t, newMemoryStore())

	_, err := r.Upload(context.Background(), "nope.pdf")

	var se *models.StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "upload", se.Op)
}

func TestUpload_RemoteFailureKeepsTempFile(t *testing.T) {
	store := newMemoryStore()
	store.putErr = errors.New("bucket unavailable")
	r := newRenderer(t, store)

	name, err := r.Render(context.Background(), "contract", "<p>x</p>")
	require.NoError(t, err)

	_, err = r.Upload(context.Background(), name)
	assert.True(t, models.IsStorageError(err))
	assert.FileExists(t, filepath.Join(r.TmpDir(), name))

	r.Discard(name)
	assert.NoFileExists(t, filepath.Join(r.TmpDir(), name))
	// discarding twice is harmless
	r.Discard(name)
}

func TestRemove(t *testing.T) {
	store := newMemoryStore()
	store.objects["files/a.pdf"] = []byte("%PDF-1.4")
	r := newRenderer(t, store)

	removed, err := r.Remove(context.Background(), "files/a.pdf")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = r.Remove(context.Background(), "files/a.pdf")
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = r.Download(context.Background(), "files/a.pdf")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestUnsupportedRunes(t *testing.T) {
	assert.Empty(t, unsupportedRunes("Olá, ação concluída € “ok”"))
	assert.Equal(t, []rune{'名', '前'}, unsupportedRunes("<p>名前 名</p>"))
	assert.Equal(t, []rune{'Ж'}, unsupportedRunes("Жuk"))
}

func TestUseUTF8Font_RejectsMissingFile(t *testing.T) {
	r := newRenderer(t, newMemoryStore())

	assert.Error(t, r.UseUTF8Font(filepath.Join(t.TempDir(), "missing.ttf")))
	assert.Error(t, r.UseUTF8Font(t.TempDir()))

	// rendering falls back to the core font
	_, err := r.Render(context.Background(), "x", "<p>名前</p>")
	require.NoError(t, err)
}

func TestSplitPages(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitPages("a<pagebreak>b<pagebreak>"))
	assert.Empty(t, splitPages("<pagebreak> <pagebreak>"))
}

func TestDocumentBaseName(t *testing.T) {
	assert.Equal(t, "contrato_2026", documentBaseName("  Contrato 2026!! "))
	assert.Equal(t, "document", documentBaseName("***"))
	assert.Len(t, documentBaseName(strings.Repeat("a", 300)), 100)
}
