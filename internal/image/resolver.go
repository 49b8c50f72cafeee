package image

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/felixgeelhaar/cibox/internal/errors"
	"github.com/felixgeelhaar/cibox/internal/log"
	"github.com/felixgeelhaar/cibox/internal/metrics"
	"github.com/felixgeelhaar/cibox/internal/telemetry"
)

// DefaultPushTimeout bounds a background registry push.
const DefaultPushTimeout = 10 * time.Minute

// Resolver turns build specs into image refs, building only on cache miss.
type Resolver struct {
	cache   *Cache
	builder Builder
	pusher  Pusher
	logger  *log.Logger
	metrics *metrics.Metrics

	pushTimeout time.Duration
	flight      singleflight.Group

	pushes   sync.WaitGroup
	pushMu   sync.Mutex
	pushErrs []error
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithPusher enables fire-and-forget pushes after each build.
func WithPusher(p Pusher) Option {
	return func(r *Resolver) { r.pusher = p }
}

// WithLogger sets the resolver's logger.
func WithLogger(l *log.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// WithMetrics records cache and build metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// WithPushTimeout overrides DefaultPushTimeout.
func WithPushTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.pushTimeout = d }
}

// NewResolver creates a resolver backed by cache and builder.
func NewResolver(cache *Cache, builder Builder, opts ...Option) *Resolver {
	if cache == nil {
		cache = NewCache("")
	}
	r := &Resolver{
		cache:       cache,
		builder:     builder,
		logger:      log.Nop(),
		pushTimeout: DefaultPushTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Cache returns the injected cache.
func (r *Resolver) Cache() *Cache {
	return r.cache
}

// Resolve returns the image for spec. A cache hit whose image is still
// present returns without building; concurrent misses for the same spec
// share one build. Failed builds are neither cached nor retried.
func (r *Resolver) Resolve(ctx context.Context, spec BuildSpec) (Ref, error) {
	if err := ValidateBase(spec.Base); err != nil {
		return Ref{}, errors.Wrap(errors.ErrCodeBuildInvalidSpec, "invalid build spec", err)
	}
	hash, err := Hash(spec)
	if err != nil {
		return Ref{}, errors.Wrap(errors.ErrCodeBuildInvalidSpec, "invalid build spec", err)
	}

	ctx, span := telemetry.StartBuildSpan(ctx, hash)
	defer span.End()

	ref, ok, err := r.cached(ctx, hash)
	if err != nil {
		telemetry.RecordError(span, err)
		return Ref{}, err
	}
	if ok {
		r.metrics.RecordCacheLookup(true)
		r.logger.Debug("image cache hit", "image", ref.Name, "spec_hash", hash)
		telemetry.RecordSuccess(span)
		return ref, nil
	}

	v, err, _ := r.flight.Do(hash, func() (any, error) {
		ref, ok, err := r.cached(ctx, hash)
		if err != nil {
			return Ref{}, err
		}
		if ok {
			r.metrics.RecordCacheLookup(true)
			return ref, nil
		}
		r.metrics.RecordCacheLookup(false)
		return r.build(ctx, spec, hash)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return Ref{}, err
	}
	telemetry.RecordSuccess(span)
	return v.(Ref), nil
}

// cached returns the cache entry for hash if its image is still in the
// engine. An entry whose image was removed behind cibox's back is dropped
// so the caller rebuilds it.
func (r *Resolver) cached(ctx context.Context, hash string) (Ref, bool, error) {
	ref, ok := r.cache.Lookup(hash)
	if !ok {
		return Ref{}, false, nil
	}
	exists, err := r.builder.Exists(ctx, ref)
	if err != nil {
		return Ref{}, false, err
	}
	if !exists {
		r.logger.Warn("cached image missing from engine, rebuilding", "image", ref.Name, "spec_hash", hash)
		r.cache.Invalidate(hash)
		return Ref{}, false, nil
	}
	return ref, true, nil
}

func (r *Resolver) build(ctx context.Context, spec BuildSpec, hash string) (Ref, error) {
	tag, err := Tag(hash)
	if err != nil {
		return Ref{}, errors.Wrap(errors.ErrCodeBuildInvalidSpec, "invalid build spec", err)
	}

	r.logger.Info("building image", "image", tag, "base", spec.Base, "install_steps", len(spec.Install))
	start := time.Now()
	id, err := r.builder.Build(ctx, spec, tag)
	r.metrics.RecordBuild(time.Since(start), err)
	if err != nil {
		if errors.CodeOf(err) == "" {
			err = errors.Wrap(errors.ErrCodeBuildFailed, "image build failed", err)
		}
		r.logger.WithError(err).Error("image build failed", "image", tag)
		return Ref{}, err
	}

	ref := Ref{Name: tag, ID: id, SpecHash: hash}
	r.cache.Store(ref)
	if err := r.cache.Save(); err != nil {
		r.logger.WithError(err).Warn("failed to save image cache manifest")
	}
	r.logger.Info("image built", "image", tag, "duration", time.Since(start).Round(time.Millisecond))

	r.pushAsync(ref)
	return ref, nil
}

// pushAsync publishes ref in the background. Jobs only need the local
// reference, so push failures are logged and surfaced by Wait.
func (r *Resolver) pushAsync(ref Ref) {
	if r.pusher == nil {
		return
	}

	r.pushes.Add(1)
	go func() {
		defer r.pushes.Done()

		ctx, cancel := context.WithTimeout(context.Background(), r.pushTimeout)
		defer cancel()

		err := r.pusher.Push(ctx, ref)
		r.metrics.RecordPush(err)
		if err != nil {
			r.logger.WithError(err).Warn("image push failed", "image", ref.Name)
			r.pushMu.Lock()
			r.pushErrs = append(r.pushErrs, err)
			r.pushMu.Unlock()
			return
		}
		r.logger.Info("image pushed", "image", ref.Name)
	}()
}

// Wait blocks until background pushes finish and returns their errors.
func (r *Resolver) Wait() error {
	r.pushes.Wait()

	r.pushMu.Lock()
	defer r.pushMu.Unlock()
	return stderrors.Join(r.pushErrs...)
}
