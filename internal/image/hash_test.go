package image

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHash_Stable(t *testing.T) {
	spec := BuildSpec{
		Base:       "python:3.11-slim",
		Install:    []string{"pip install selenium==4.15.2"},
		Entrypoint: []string{"python"},
	}

	h1, err := Hash(spec)
	require.NoError(t, err)
	h2, err := Hash(spec)
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestHash_Sensitivity(t *testing.T) {
	base := BuildSpec{Base: "python:3.11-slim", Install: []string{"a", "b"}}

	tests := []struct {
		name  string
		other BuildSpec
		same  bool
	}{
		{"identical", BuildSpec{Base: "python:3.11-slim", Install: []string{"a", "b"}}, true},
		{"install order matters", BuildSpec{Base: "python:3.11-slim", Install: []string{"b", "a"}}, false},
		{"different base", BuildSpec{Base: "python:3.12-slim", Install: []string{"a", "b"}}, false},
		{"entrypoint", BuildSpec{Base: "python:3.11-slim", Install: []string{"a", "b"}, Entrypoint: []string{"sh"}}, false},
		{"context digest", BuildSpec{Base: "python:3.11-slim", Install: []string{"a", "b"}, ContextDigest: "x"}, false},
		{"context path ignored", BuildSpec{Base: "python:3.11-slim", Install: []string{"a", "b"}, Context: "/elsewhere"}, true},
	}

	want, err := Hash(base)
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Hash(tt.other)
			require.NoError(t, err)
			if tt.same {
				assert.Equal(t, want, got)
			} else {
				assert.NotEqual(t, want, got)
			}
		})
	}
}

func TestHash_NilAndEmptySlicesAgree(t *testing.T) {
	h1, err := Hash(BuildSpec{Base: "alpine"})
	require.NoError(t, err)
	h2, err := Hash(BuildSpec{Base: "alpine", Install: []string{}, Entrypoint: []string{}})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestTag(t *testing.T) {
	hash, err := Hash(BuildSpec{Base: "alpine"})
	require.NoError(t, err)

	tag, err := Tag(hash)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(tag, Repository+":"))
	assert.Equal(t, hash[:32], strings.TrimPrefix(tag, Repository+":"))

	_, err = Tag("abc")
	assert.Error(t, err)
}

func TestValidateBase(t *testing.T) {
	assert.NoError(t, ValidateBase("python:3.11-slim"))
	assert.NoError(t, ValidateBase("ghcr.io/org/img@sha256:"+strings.Repeat("a", 64)))
	assert.Error(t, ValidateBase("UPPER CASE"))
	assert.Error(t, ValidateBase(""))
}

func TestHashContext(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scraper.py"), []byte("print(1)\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pkg", "util.py"), []byte("x = 1\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git", "HEAD"), []byte("ref\n"), 0o644))

	d1, err := HashContext(dir)
	require.NoError(t, err)

	// .git contents do not participate.
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git", "HEAD"), []byte("other\n"), 0o644))
	d2, err := HashContext(dir)
	require.NoError(t, err)
	assert.Equal(t, d1, d2)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "scraper.py"), []byte("print(2)\n"), 0o644))
	d3, err := HashContext(dir)
	require.NoError(t, err)
	assert.NotEqual(t, d1, d3)
}

func TestHashContext_ContentCannotForgeFileBoundary(t *testing.T) {
	split := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(split, "a"), []byte("1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(split, "b"), []byte("2"), 0o644))

	// One file whose content mimics the header of a second file.
	joined := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(joined, "a"), []byte("1\x00b\x00644\x002"), 0o644))

	d1, err := HashContext(split)
	require.NoError(t, err)
	d2, err := HashContext(joined)
	require.NoError(t, err)
	assert.NotEqual(t, d1, d2)
}
