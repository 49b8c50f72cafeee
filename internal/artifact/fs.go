package artifact

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/felixgeelhaar/cibox/internal/errors"
)

// Harvest stores every regular file under dir as an artifact of jobID,
// named by its slash-separated path relative to dir. Symlinks are skipped
// so a job cannot export files from outside its output directory.
func Harvest(ctx context.Context, store Store, jobID, dir string) ([]Artifact, error) {
	var out []Artifact
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		blob, err := os.ReadFile(p)
		if err != nil {
			return errors.Wrap(errors.ErrCodeFileReadFailed, fmt.Sprintf("read artifact %s", rel), err)
		}
		a, err := store.Put(ctx, jobID, filepath.ToSlash(rel), blob)
		if err != nil {
			return err
		}
		out = append(out, a)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("harvest artifacts of %s: %w", jobID, err)
	}
	return out, nil
}

// Stage writes every artifact of jobID into dir, recreating its relative
// layout, and returns what was written.
func Stage(ctx context.Context, store Store, jobID, dir string) ([]Artifact, error) {
	names, err := store.List(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(errors.ErrCodeFileWriteFailed, "create input directory", err)
	}

	staged := make([]Artifact, 0, len(names))
	for _, name := range names {
		a, err := store.Get(ctx, jobID, name)
		if err != nil {
			return nil, err
		}
		dst := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return nil, errors.Wrap(errors.ErrCodeFileWriteFailed, "create input directory", err)
		}
		if err := os.WriteFile(dst, a.Blob, 0o644); err != nil {
			return nil, errors.Wrap(errors.ErrCodeFileWriteFailed, fmt.Sprintf("stage %s/%s", jobID, name), err)
		}
		staged = append(staged, a)
	}
	return staged, nil
}
