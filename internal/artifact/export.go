package artifact

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/google/renameio/v2"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/felixgeelhaar/cibox/internal/errors"
)

// Exporter copies a finished run's artifacts somewhere that outlives the
// run.
type Exporter interface {
	Export(ctx context.Context, runID string, store Store) (int, error)
}

// each calls fn for every artifact in store, ordered by job then name.
func each(ctx context.Context, store Store, fn func(Artifact) error) (int, error) {
	jobs, err := store.Jobs(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, jobID := range jobs {
		names, err := store.List(ctx, jobID)
		if err != nil {
			return n, err
		}
		for _, name := range names {
			a, err := store.Get(ctx, jobID, name)
			if err != nil {
				return n, err
			}
			if err := fn(a); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

// DirExporter writes artifacts to <Dir>/<run>/<job>/<name>.
type DirExporter struct {
	Dir string
}

// Export implements Exporter. Each file is replaced atomically.
func (e *DirExporter) Export(ctx context.Context, runID string, store Store) (int, error) {
	return each(ctx, store, func(a Artifact) error {
		dst := filepath.Join(e.Dir, runID, a.JobID, filepath.FromSlash(a.Name))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return errors.Wrap(errors.ErrCodeArtifactExportFailed, "create export directory", err)
		}
		if err := renameio.WriteFile(dst, a.Blob, 0o644); err != nil {
			return errors.Wrap(errors.ErrCodeArtifactExportFailed, fmt.Sprintf("export %s/%s", a.JobID, a.Name), err)
		}
		return nil
	})
}

// S3Config configures an S3-compatible export target.
type S3Config struct {
	Endpoint     string `yaml:"endpoint"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	Bucket       string `yaml:"bucket"`
	Region       string `yaml:"region,omitempty"`
	Prefix       string `yaml:"prefix,omitempty"`
	UseSSL       bool   `yaml:"use_ssl"`
	CreateBucket bool   `yaml:"create_bucket,omitempty"`
}

// Validate checks the required fields.
func (c S3Config) Validate() error {
	switch {
	case c.Endpoint == "":
		return errors.New(errors.ErrCodeConfigInvalid, "s3 export: endpoint is required")
	case c.Bucket == "":
		return errors.New(errors.ErrCodeConfigInvalid, "s3 export: bucket is required")
	}
	return nil
}

// S3Exporter uploads artifacts to runs/<run>/<job>/<name> in a bucket.
type S3Exporter struct {
	client *minio.Client
	cfg    S3Config
}

// NewS3Exporter creates an exporter with a minio client for cfg.
func NewS3Exporter(cfg S3Config) (*S3Exporter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeConfigInvalid, "create s3 client", err)
	}
	return &S3Exporter{client: client, cfg: cfg}, nil
}

// Key returns the object key of an artifact.
func (e *S3Exporter) Key(runID, jobID, name string) string {
	return path.Join(e.cfg.Prefix, "runs", runID, jobID, name)
}

// Export implements Exporter.
func (e *S3Exporter) Export(ctx context.Context, runID string, store Store) (int, error) {
	if e.cfg.CreateBucket {
		if err := e.ensureBucket(ctx); err != nil {
			return 0, errors.Wrap(errors.ErrCodeArtifactExportFailed, "ensure bucket "+e.cfg.Bucket, err)
		}
	}

	return each(ctx, store, func(a Artifact) error {
		key := e.Key(runID, a.JobID, a.Name)
		opts := minio.PutObjectOptions{
			ContentType:  "application/octet-stream",
			UserMetadata: map[string]string{"digest": a.Digest},
		}
		if _, err := e.client.PutObject(ctx, e.cfg.Bucket, key, bytes.NewReader(a.Blob), a.Size, opts); err != nil {
			return errors.Wrap(errors.ErrCodeArtifactExportFailed, "upload "+key, err)
		}
		return nil
	})
}

func (e *S3Exporter) ensureBucket(ctx context.Context) error {
	exists, err := e.client.BucketExists(ctx, e.cfg.Bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return e.client.MakeBucket(ctx, e.cfg.Bucket, minio.MakeBucketOptions{Region: e.cfg.Region})
}

// Ping checks that the bucket is reachable with the configured
// credentials. A missing bucket is only an error without CreateBucket.
func (e *S3Exporter) Ping(ctx context.Context) error {
	exists, err := e.client.BucketExists(ctx, e.cfg.Bucket)
	if err != nil {
		return errors.Wrap(errors.ErrCodeArtifactExportFailed, "reach bucket "+e.cfg.Bucket, err)
	}
	if !exists && !e.cfg.CreateBucket {
		return errors.Newf(errors.ErrCodeArtifactExportFailed, "bucket %q does not exist", e.cfg.Bucket).
			WithSuggestion("Create the bucket or set export.s3.create_bucket")
	}
	return nil
}
