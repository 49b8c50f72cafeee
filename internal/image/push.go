package image

import (
	"context"
	"fmt"
	"os"
	osexec "os/exec"
	"path/filepath"
	"strings"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/tarball"

	"github.com/felixgeelhaar/cibox/internal/errors"
)

// Pusher publishes a built image to a remote registry.
type Pusher interface {
	Push(ctx context.Context, ref Ref) error
}

// RegistryPusher exports a local image with `docker save` and uploads it
// with go-containerregistry.
type RegistryPusher struct {
	// Repository is the remote repository, e.g. ghcr.io/org/cibox-cache.
	Repository string
	DockerBin  string
	Keychain   authn.Keychain
	Insecure   bool
	UserAgent  string
}

// NewRegistryPusher creates a pusher with default keychain and user agent.
func NewRegistryPusher(repository, dockerBin string, insecure bool) *RegistryPusher {
	if dockerBin == "" {
		dockerBin = "docker"
	}
	return &RegistryPusher{
		Repository: repository,
		DockerBin:  dockerBin,
		Keychain:   authn.DefaultKeychain,
		Insecure:   insecure,
		UserAgent:  "cibox/1.0",
	}
}

// Target returns the remote tag a ref is pushed to.
func (p *RegistryPusher) Target(ref Ref) (name.Tag, error) {
	var opts []name.Option
	if p.Insecure {
		opts = append(opts, name.Insecure)
	}
	suffix := ref.SpecHash
	if len(suffix) > 32 {
		suffix = suffix[:32]
	}
	return name.NewTag(strings.TrimSuffix(p.Repository, "/")+":"+suffix, opts...)
}

// Push implements Pusher.
func (p *RegistryPusher) Push(ctx context.Context, ref Ref) error {
	target, err := p.Target(ref)
	if err != nil {
		return errors.Wrap(errors.ErrCodeBuildPushFailed, "invalid push target", err)
	}
	source, err := name.NewTag(ref.Name)
	if err != nil {
		return errors.Wrap(errors.ErrCodeBuildPushFailed, "invalid local tag", err)
	}

	tmp, err := os.MkdirTemp("", "cibox-push-*")
	if err != nil {
		return fmt.Errorf("create push dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	tarPath := filepath.Join(tmp, "image.tar")
	save := osexec.CommandContext(ctx, p.DockerBin, "save", "-o", tarPath, ref.Name)
	if out, err := save.CombinedOutput(); err != nil {
		return errors.Wrap(errors.ErrCodeBuildPushFailed,
			fmt.Sprintf("docker save %s: %s", ref.Name, strings.TrimSpace(string(out))), err)
	}

	img, err := tarball.ImageFromPath(tarPath, &source)
	if err != nil {
		return errors.Wrap(errors.ErrCodeBuildPushFailed, "read saved image", err)
	}

	opts := []remote.Option{
		remote.WithContext(ctx),
		remote.WithAuthFromKeychain(p.Keychain),
		remote.WithUserAgent(p.UserAgent),
	}
	if err := remote.Write(target, img, opts...); err != nil {
		return errors.Wrap(errors.ErrCodeBuildPushFailed, fmt.Sprintf("push %s", target), err)
	}
	return nil
}
