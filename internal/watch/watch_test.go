package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/vade/internal/domain"
	"github.com/ashureev/vade/internal/workspace"
)

func startSyncer(t *testing.T, store *workspace.Store) (*Syncer, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "sync")
	s, err := New(dir, store, 20*time.Millisecond, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	t.Cleanup(func() {
		cancel()
		_ = s.Stop()
	})
	return s, dir
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestStartMirrorsBuffers(t *testing.T) {
	store := workspace.NewStore(domain.Buffers{HTML: "<p>a</p>", CSS: "p{}", JavaScript: "1"})
	_, dir := startSyncer(t, store)

	assert.Equal(t, "<p>a</p>", readFile(t, filepath.Join(dir, "markup.html")))
	assert.Equal(t, "p{}", readFile(t, filepath.Join(dir, "style.css")))
	assert.Equal(t, "1", readFile(t, filepath.Join(dir, "script.js")))
}

func TestExternalEditImportsIntoStore(t *testing.T) {
	store := workspace.NewStore(domain.DefaultBuffers())
	_, dir := startSyncer(t, store)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "style.css"), []byte("body{color:red}"), 0o644))

	require.Eventually(t, func() bool {
		return store.Get(domain.CSS) == "body{color:red}"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, domain.DefaultBuffers().HTML, store.Get(domain.HTML))
}

func TestStoreChangeIsWrittenToDisk(t *testing.T) {
	store := workspace.NewStore(domain.DefaultBuffers())
	_, dir := startSyncer(t, store)

	store.Set(domain.JavaScript, "console.log(2)")

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(filepath.Join(dir, "script.js"))
		return err == nil && string(data) == "console.log(2)"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestIgnoresUnrelatedFiles(t *testing.T) {
	store := workspace.NewStore(domain.DefaultBuffers())
	_, dir := startSyncer(t, store)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, domain.DefaultBuffers(), store.Snapshot())
}

func TestNewRequiresDir(t *testing.T) {
	_, err := New("", workspace.NewStore(domain.Buffers{}), 0, nil)
	assert.Error(t, err)
}

func TestLanguageFor(t *testing.T) {
	lang, ok := languageFor("markup.html")
	assert.True(t, ok)
	assert.Equal(t, domain.HTML, lang)

	_, ok = languageFor("index.html")
	assert.False(t, ok)
}
