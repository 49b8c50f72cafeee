package image

import (
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/zeebo/blake3"
)

// Repository is the local repository every built image is tagged into.
const Repository = "cibox.local/build"

// canonical is the hashed view of a BuildSpec. Field order is fixed by the
// struct, and nil slices are normalised so that omitted and empty agree.
type canonical struct {
	Base          string   `json:"base"`
	Install       []string `json:"install"`
	Entrypoint    []string `json:"entrypoint"`
	ContextDigest string   `json:"context_digest"`
}

// Hash computes the blake3 content hash of a build spec.
func Hash(spec BuildSpec) (string, error) {
	c := canonical{
		Base:          spec.Base,
		Install:       spec.Install,
		Entrypoint:    spec.Entrypoint,
		ContextDigest: spec.ContextDigest,
	}
	if c.Install == nil {
		c.Install = []string{}
	}
	if c.Entrypoint == nil {
		c.Entrypoint = []string{}
	}

	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("canonicalize build spec: %w", err)
	}

	hasher := blake3.New()
	if _, err := hasher.Write(data); err != nil {
		return "", fmt.Errorf("hash build spec: %w", err)
	}
	return fmt.Sprintf("%x", hasher.Sum(nil)), nil
}

// Tag returns the local tag for a spec hash.
func Tag(specHash string) (string, error) {
	if len(specHash) < 32 {
		return "", fmt.Errorf("spec hash too short: %q", specHash)
	}
	tag, err := name.NewTag(Repository + ":" + specHash[:32])
	if err != nil {
		return "", fmt.Errorf("build tag: %w", err)
	}
	return tag.String(), nil
}

// ValidateBase checks that base is a well-formed image reference.
func ValidateBase(base string) error {
	if _, err := name.ParseReference(base); err != nil {
		return fmt.Errorf("invalid base image %q: %w", base, err)
	}
	return nil
}

// HashContext computes a deterministic digest over the regular files of a
// build context directory: their slash-separated relative paths, modes,
// sizes and contents, in lexical path order.
func HashContext(dir string) (string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walk build context: %w", err)
	}
	sort.Strings(files)

	hasher := blake3.New()
	for _, path := range files {
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return "", err
		}
		if err := hashFile(hasher, path, filepath.ToSlash(rel)); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("%x", hasher.Sum(nil)), nil
}

// hashFile writes one length-prefixed record so no file content can be
// mistaken for the header of the next file.
func hashFile(w io.Writer, path, rel string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", rel, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", rel, err)
	}
	fmt.Fprintf(w, "%s\x00%o\x00%d\x00", rel, info.Mode().Perm(), info.Size())

	n, err := io.Copy(w, f)
	if err != nil {
		return fmt.Errorf("read %s: %w", rel, err)
	}
	if n != info.Size() {
		return fmt.Errorf("read %s: file changed while hashing", rel)
	}
	return nil
}
