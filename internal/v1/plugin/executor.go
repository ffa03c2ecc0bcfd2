package plugin

import (
	"context"
	"sync"
	"sync/atomic"
)

// PreHook observes or mutates a request before its handler runs. req is
// always a pointer to the concrete request struct; hooks that don't
// recognize the variant's shape should type-assert defensively.
type PreHook func(ctx context.Context, req any) error

// PostHook observes the same request handle after the handler returns,
// plus whether it succeeded. Its error is always logged and swallowed.
type PostHook func(ctx context.Context, req any, success bool) error

// Installer registers a plugin's hooks against a Builder. One Installer
// corresponds to one named plugin (a native Go package or a loaded script).
type Installer interface {
	Install(b *Builder)
}

type registration struct {
	name   string
	active atomic.Bool
	pre    map[Variant]PreHook
	post   map[Variant]PostHook
}

// Builder is the handle an Installer uses to register its hooks.
type Builder struct {
	reg *registration
}

// Pre registers the pre-hook for variant v.
func (b *Builder) Pre(v Variant, fn PreHook) { b.reg.pre[v] = fn }

// Post registers the post-hook for variant v.
func (b *Builder) Post(v Variant, fn PostHook) { b.reg.post[v] = fn }

// Executor runs every installed plugin's hooks, in installation order,
// around each request variant.
type Executor struct {
	mu   sync.RWMutex
	regs []*registration

	onPostError func(pluginName string, v Variant, err error)
}

// New builds an empty Executor. onPostError, if non-nil, is invoked for
// every swallowed post-hook failure (wire it to the structured logger).
func New(onPostError func(pluginName string, v Variant, err error)) *Executor {
	return &Executor{onPostError: onPostError}
}

// Add installs a named plugin, newly active.
func (e *Executor) Add(name string, installer Installer) {
	reg := &registration{
		name: name,
		pre:  make(map[Variant]PreHook),
		post: make(map[Variant]PostHook),
	}
	reg.active.Store(true)
	installer.Install(&Builder{reg: reg})

	e.mu.Lock()
	e.regs = append(e.regs, reg)
	e.mu.Unlock()
}

// SetActive flips a named plugin's enable flag; a disabled plugin's hooks
// are skipped without being unregistered.
func (e *Executor) SetActive(name string, active bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, r := range e.regs {
		if r.name == name {
			r.active.Store(active)
		}
	}
}

// RunPre runs every active plugin's pre-hook for v, in installation order.
// The first hook to return an error aborts the chain; that error (expected
// to be a *Error) is returned to the caller as-is.
func (e *Executor) RunPre(ctx context.Context, v Variant, req any) error {
	if e == nil {
		return nil
	}
	e.mu.RLock()
	regs := append([]*registration(nil), e.regs...)
	e.mu.RUnlock()

	for _, r := range regs {
		if !r.active.Load() {
			continue
		}
		hook, ok := r.pre[v]
		if !ok {
			continue
		}
		if err := hook(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

// RunPost runs every active plugin's post-hook for v. Hook errors never
// propagate to the caller; they're reported through onPostError and
// otherwise ignored, matching the post-hook's observe-only contract.
func (e *Executor) RunPost(ctx context.Context, v Variant, req any, success bool) {
	if e == nil {
		return
	}
	e.mu.RLock()
	regs := append([]*registration(nil), e.regs...)
	e.mu.RUnlock()

	for _, r := range regs {
		if !r.active.Load() {
			continue
		}
		hook, ok := r.post[v]
		if !ok {
			continue
		}
		if err := hook(ctx, req, success); err != nil && e.onPostError != nil {
			e.onPostError(r.name, v, err)
		}
	}
}
