// Package registry keeps at most one live sandbox per user key and reaps
// the ones that sit idle.
//
// Every operation on a key runs under that key's lock, so concurrent
// leases for one user never provision twice, and a sandbox that is in use
// is never released or reaped underneath its user.
package registry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/koustreak/driftbox/internal/errs"
	"github.com/koustreak/driftbox/internal/logger"
	"github.com/koustreak/driftbox/internal/sandbox"
)

const (
	DefaultIdleTimeout  = 30 * time.Minute
	DefaultReapInterval = time.Minute
)

// Config tunes a Registry. Zero fields take defaults.
type Config struct {
	IdleTimeout  time.Duration
	ReapInterval time.Duration

	Clock     Clock
	NewTicker TickerFactory
	Log       *logger.Logger
}

// Lease describes a sandbox handed to a user.
type Lease struct {
	Key          string
	Sandbox      sandbox.Sandbox
	CreatedAt    time.Time
	LastAccessed time.Time
	// Reused is false when this lease provisioned the sandbox.
	Reused bool
}

type entry struct {
	sb           sandbox.Sandbox
	created      time.Time
	lastAccessed time.Time
}

// keyLock is a one-slot semaphore so waiting on it can honor a context.
type keyLock struct {
	ch   chan struct{}
	refs int
}

// Registry maps user keys to sandboxes.
type Registry struct {
	prov sandbox.Provisioner
	cfg  Config
	log  *logger.Logger

	mu      sync.Mutex
	entries map[string]*entry
	locks   map[string]*keyLock
	closed  bool
}

// New returns a Registry that provisions through prov.
func New(prov sandbox.Provisioner, cfg Config) *Registry {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = DefaultReapInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = ClockFunc(time.Now)
	}
	if cfg.NewTicker == nil {
		cfg.NewTicker = newTimeTicker
	}
	log := cfg.Log
	if log == nil {
		log = logger.Nop()
	}

	return &Registry{
		prov:    prov,
		cfg:     cfg,
		log:     log.With().Str("backend", string(prov.Kind())).Logger(),
		entries: make(map[string]*entry),
		locks:   make(map[string]*keyLock),
	}
}

// Lease returns key's sandbox, provisioning one if there is none, and
// marks it used. Successive leases of one sandbox see strictly increasing
// LastAccessed values.
func (r *Registry) Lease(ctx context.Context, key string) (*Lease, error) {
	unlock, err := r.lock(ctx, key)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return r.lease(ctx, key)
}

// Do leases key's sandbox and runs fn while holding the key, so nothing
// else can lease, release or reap it meanwhile. If fn fails the sandbox is
// released before Do returns fn's error; otherwise it is marked used
// again, so a long preview does not leave it looking idle.
func (r *Registry) Do(ctx context.Context, key string, fn func(ctx context.Context, l *Lease) error) error {
	unlock, err := r.lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()

	l, err := r.lease(ctx, key)
	if err != nil {
		return err
	}

	if err := fn(ctx, l); err != nil {
		if relErr := r.release(context.WithoutCancel(ctx), key); relErr != nil {
			r.log.WarnWith("release after failure", relErr, map[string]interface{}{"user": key})
		}
		return err
	}
	if e := r.entry(key); e != nil {
		r.touch(e)
	}
	return nil
}

// Release discards key's sandbox. Releasing a key with no sandbox is a
// no-op.
func (r *Registry) Release(ctx context.Context, key string) error {
	unlock, err := r.lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()

	return r.release(ctx, key)
}

// Reap discards every sandbox idle for longer than the idle timeout and
// returns how many went. Keys in use right now are skipped.
func (r *Registry) Reap(ctx context.Context) (int, error) {
	r.mu.Lock()
	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	r.mu.Unlock()
	sort.Strings(keys)

	var (
		reaped int
		failed []error
	)
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return reaped, errs.Wrap(errs.ErrKindTimeout, "reap canceled", err)
		}

		unlock, ok := r.tryLock(key)
		if !ok {
			continue
		}
		e := r.entry(key)
		if e != nil && r.cfg.Clock.Now().Sub(e.lastAccessed) > r.cfg.IdleTimeout {
			if err := r.release(ctx, key); err != nil {
				failed = append(failed, err)
			} else {
				reaped++
				r.log.InfoWith("reaped idle sandbox", map[string]interface{}{
					"user":    key,
					"sandbox": e.sb.ID(),
					"idle":    r.cfg.Clock.Now().Sub(e.lastAccessed).String(),
				})
			}
		}
		unlock()
	}
	return reaped, errors.Join(failed...)
}

// Run reaps on every tick until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	t := r.cfg.NewTicker(r.cfg.ReapInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			if _, err := r.Reap(ctx); err != nil && ctx.Err() == nil {
				r.log.ErrorWith("reap", err, nil)
			}
		}
	}
}

// Start runs the reaper in the background. The returned stop function
// cancels it and waits for it to exit.
func (r *Registry) Start(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

// Len reports how many sandboxes are live.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close discards every sandbox and refuses further leases.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	r.mu.Unlock()

	var failed []error
	for _, key := range keys {
		if err := r.Release(ctx, key); err != nil {
			failed = append(failed, err)
		}
	}
	return errors.Join(failed...)
}

// lease runs with key's lock held.
func (r *Registry) lease(ctx context.Context, key string) (*Lease, error) {
	r.mu.Lock()
	closed := r.closed
	e := r.entries[key]
	r.mu.Unlock()
	if closed {
		return nil, errs.New(errs.ErrKindProvisioning, "registry is closed")
	}

	reused := e != nil
	if e == nil {
		sb, err := r.prov.Provision(ctx, key)
		if err != nil {
			return nil, errs.Rekind(errs.ErrKindProvisioning, "provision sandbox", err)
		}
		e = &entry{sb: sb, created: r.cfg.Clock.Now()}

		r.mu.Lock()
		r.entries[key] = e
		r.mu.Unlock()

		r.log.InfoWith("provisioned sandbox", map[string]interface{}{"user": key, "sandbox": sb.ID()})
	}

	r.touch(e)
	r.log.DebugWith("leased sandbox", map[string]interface{}{"user": key, "sandbox": e.sb.ID(), "reused": reused})

	return &Lease{
		Key:          key,
		Sandbox:      e.sb,
		CreatedAt:    e.created,
		LastAccessed: e.lastAccessed,
		Reused:       reused,
	}, nil
}

// release runs with key's lock held.
func (r *Registry) release(ctx context.Context, key string) error {
	r.mu.Lock()
	e := r.entries[key]
	delete(r.entries, key)
	r.mu.Unlock()

	if e == nil {
		return nil
	}
	if err := e.sb.Discard(ctx); err != nil {
		return errs.Rekind(errs.ErrKindProvisioning, "discard sandbox "+e.sb.ID(), err)
	}
	r.log.InfoWith("released sandbox", map[string]interface{}{"user": key, "sandbox": e.sb.ID()})
	return nil
}

// touch runs with the entry's key lock held.
func (r *Registry) touch(e *entry) {
	now := r.cfg.Clock.Now()
	if !now.After(e.lastAccessed) {
		now = e.lastAccessed.Add(time.Nanosecond)
	}
	e.lastAccessed = now
}

func (r *Registry) entry(key string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[key]
}

func (r *Registry) lock(ctx context.Context, key string) (func(), error) {
	if key == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "empty user key")
	}

	kl := r.ref(key)
	select {
	case kl.ch <- struct{}{}:
		return func() { r.unlock(key, kl) }, nil
	case <-ctx.Done():
		r.unref(key, kl)
		return nil, errs.Wrap(errs.ErrKindTimeout, "wait for sandbox "+key, ctx.Err())
	}
}

func (r *Registry) tryLock(key string) (func(), bool) {
	kl := r.ref(key)
	select {
	case kl.ch <- struct{}{}:
		return func() { r.unlock(key, kl) }, true
	default:
		r.unref(key, kl)
		return nil, false
	}
}

func (r *Registry) ref(key string) *keyLock {
	r.mu.Lock()
	defer r.mu.Unlock()
	kl, ok := r.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		r.locks[key] = kl
	}
	kl.refs++
	return kl
}

func (r *Registry) unlock(key string, kl *keyLock) {
	<-kl.ch
	r.unref(key, kl)
}

func (r *Registry) unref(key string, kl *keyLock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(r.locks, key)
	}
}
