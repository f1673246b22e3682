package templates

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderFeatureItem(t *testing.T) {
	r, err := New()
	require.NoError(t, err)

	html, err := r.Render("feature-item", map[string]any{
		"Key": "feature-0-1-2-3", "Tile": "0/1,2", "Index": 3, "ID": "<b>",
	})
	require.NoError(t, err)
	assert.Contains(t, html, `id="feature-0-1-2-3"`)
	assert.Contains(t, html, "&lt;b&gt;")

	_, err = r.Render("missing", nil)
	assert.Error(t, err)
}

func TestReload(t *testing.T) {
	r, err := New()
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x.html"), []byte(`{{define "feature-item"}}custom {{.ID}}{{end}}`), 0644))
	require.NoError(t, r.Reload(dir))

	html, err := r.Render("feature-item", map[string]any{"ID": "a"})
	require.NoError(t, err)
	assert.Equal(t, "custom a", html)
}
