package pluginloader

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckCompatibility(t *testing.T) {
	tests := []struct {
		name     string
		host     string
		min, max string
		want     bool
	}{
		{"no constraints", "1.0.0", "", "", true},
		{"caret match", "1.4.0", "^1.2.0", "", true},
		{"caret major mismatch", "2.0.0", "^1.2.0", "", false},
		{"bare minimum", "1.4.0", "1.5.0", "", false},
		{"bare minimum equal", "1.5.0", "1.5.0", "", true},
		{"explicit gte", "3.1.0", ">=2.0.0", "", true},
		{"bare maximum", "2.1.0", "", "2.0.0", false},
		{"range", "1.9.9", ">=1.0.0", "<2.0.0", true},
		{"exact", "1.2.3", "=1.2.3", "", true},
		{"exact mismatch", "1.2.4", "=1.2.3", "", false},
		{"wildcard", "9.0.0", "*", "", true},
		{"garbage", "1.0.0", "not-a-version", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CheckCompatibility(tt.host, tt.min, tt.max)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Compatible, got.Reason)
		})
	}

	_, err := CheckCompatibility("latest", "", "")
	assert.Error(t, err)
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "seo.lua"), "return {}")
	writeFile(t, filepath.Join(dir, "reviews", "init.lua"), "return {}")
	writeFile(t, filepath.Join(dir, "reviews", "package.json"), `{"maxCoreVersion": "2.0.0"}`)
	writeFile(t, filepath.Join(dir, "empty", "README.md"), "no entry")
	writeFile(t, filepath.Join(dir, "_disabled.lua"), "return {}")
	writeFile(t, filepath.Join(dir, "notes.txt"), "")

	found, err := Discover(dir)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "reviews", found[0].ID)
	assert.Equal(t, "seo", found[1].ID)

	m, err := ReadManifest(found[0])
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "2.0.0", m.MaxCoreVersion)

	m, err = ReadManifest(found[1])
	require.NoError(t, err)
	assert.Nil(t, m)

	missing, err := Discover(filepath.Join(dir, "nope"))
	require.NoError(t, err)
	assert.Empty(t, missing)
}
