package local

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresBaseDir(t *testing.T) {
	_, err := New(Config{BaseDir: "  "})
	require.Error(t, err)
}

func TestNewCreatesMissingBaseDir(t *testing.T) {
	base := filepath.Join(t.TempDir(), "artifacts")

	store, err := New(Config{BaseDir: base})
	require.NoError(t, err)
	require.NotNil(t, store)

	info, err := os.Stat(base)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestPutObjectWritesNestedFile(t *testing.T) {
	base := t.TempDir()
	store, err := New(Config{BaseDir: base})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "runs/run-1/records.csv", "text/csv", []byte("ip,day\n"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(uri, "file://"), "uri %q", uri)

	content, err := os.ReadFile(filepath.Join(base, "runs", "run-1", "records.csv"))
	require.NoError(t, err)
	assert.Equal(t, "ip,day\n", string(content))
}

func TestPutObjectOverwrites(t *testing.T) {
	base := t.TempDir()
	store, err := New(Config{BaseDir: base})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "summary.json", "application/json", []byte("{}"))
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), "summary.json", "application/json", []byte(`{"a":1}`))
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(base, "summary.json"))
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(content))
}

func TestPutObjectRejectsTraversal(t *testing.T) {
	base := t.TempDir()
	store, err := New(Config{BaseDir: base})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "../outside.txt", "text/plain", []byte("nope"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes base directory")
}

func TestPutObjectRejectsEmptyPath(t *testing.T) {
	store, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "", "text/plain", nil)
	require.Error(t, err)
}
