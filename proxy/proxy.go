// Package proxy implements the thin polymorphic access layer of §4.6 (C7):
// it maps a scope key (shared / thread / task) to a resource borrowed from
// a pool.Pool, and forwards work to it. Go has no runtime attribute lookup,
// so "forwarding" here is the static strategy §9 calls out explicitly: a
// thin generic wrapper parameterised by the resource type, not reflection.
package proxy

import (
	"context"
	"errors"
	"sync"

	pool "github.com/zx80/resource-pool"
	"github.com/zx80/resource-pool/scope"
)

// ErrNoObject is returned when the proxy has neither a bound object nor a
// factory/pool configured yet (§6 "ProxyError — unset object").
var ErrNoObject = errors.New("proxy: no object or factory bound yet")

// ErrNoKeyFunc is returned when a TASK-scoped proxy is used before a
// KeyFunc provider is set (§6 "ProxyError — scope-provider missing").
var ErrNoKeyFunc = errors.New("proxy: TASK scope requires a KeyFunc")

// Config is the proxy construction record of §6 "Proxy construction".
type Config[T comparable] struct {
	// Obj is an immediate shared object; exclusive with Fun.
	Obj T
	// HasObj must be true for Obj to take effect (T's zero value is a
	// legitimate shared object for some resource types).
	HasObj bool

	// Fun is the factory used to populate an internal pool; exclusive with Obj.
	Fun pool.Factory[T]
	// Pool is the pool configuration used when Fun is set. Pool.Fun is
	// ignored in favor of the top-level Fun field.
	Pool pool.Config[T]

	// Scope selects SHARED / THREAD / TASK (§4.6).
	Scope scope.Kind
	// KeyFunc is the injected task-identity provider, required for Task scope.
	KeyFunc scope.KeyFunc
}

// Proxy is a polymorphic access layer over pool.Pool (§4.6).
//
// Cyclic-ownership note (§9): Proxy uses a Pool by composition; Pool never
// references its Proxy, so there is no cycle to break on teardown.
type Proxy[T comparable] struct {
	mu sync.RWMutex

	obj    T
	hasObj bool

	fun pool.Factory[T]
	p   *pool.Pool[T]

	scopeKind scope.Kind
	keyFunc   scope.KeyFunc

	heldMu sync.Mutex
	// held maps a scope key to the resource currently borrowed from the
	// pool on its behalf, so repeated calls from the same scope see the
	// same resource until it is explicitly returned (§4.6 last paragraph).
	held map[string]T
}

// New builds a Proxy from cfg. If cfg.Fun is set, an internal pool is
// created immediately from cfg.Pool; SetPoolConfig can override it later.
func New[T comparable](cfg Config[T]) (*Proxy[T], error) {
	px := &Proxy[T]{
		scopeKind: cfg.Scope,
		keyFunc:   cfg.KeyFunc,
		held:      make(map[string]T),
	}

	if cfg.HasObj {
		px.obj = cfg.Obj
		px.hasObj = true
		return px, nil
	}

	if cfg.Fun != nil {
		px.fun = cfg.Fun
		poolCfg := cfg.Pool
		poolCfg.Fun = cfg.Fun
		p, err := pool.New(poolCfg)
		if err != nil {
			return nil, err
		}
		px.p = p
	}

	return px, nil
}

// SetObj late-binds a shared object, for proxies constructed before the
// wrapped value was known (§4.6 "set_obj"). It discards any pool.
func (px *Proxy[T]) SetObj(obj T) {
	px.mu.Lock()
	defer px.mu.Unlock()
	px.obj = obj
	px.hasObj = true
	px.p = nil
	px.fun = nil
}

// SetFun late-binds a factory (§4.6 "set_fun"). It records the factory that
// a later SetPoolConfig uses when its cfg.Fun is nil; it does not create a
// pool, and an already-built pool keeps building resources with the factory
// it was created with.
func (px *Proxy[T]) SetFun(fun pool.Factory[T]) {
	px.mu.Lock()
	defer px.mu.Unlock()
	px.fun = fun
	px.hasObj = false
}

// SetPoolConfig is the proxy's "_set_pool(**cfg)": a delayed pool parameter
// override for when the proxy is created before configuration is known.
// It replaces any existing internal pool.
func (px *Proxy[T]) SetPoolConfig(cfg pool.Config[T]) error {
	px.mu.Lock()
	defer px.mu.Unlock()

	if cfg.Fun == nil {
		cfg.Fun = px.fun
	}
	if cfg.Fun == nil {
		return ErrNoObject
	}

	p, err := pool.New(cfg)
	if err != nil {
		return err
	}
	px.p = p
	px.fun = cfg.Fun
	px.hasObj = false
	return nil
}

// currentKey resolves the scope key for the calling context.
func (px *Proxy[T]) currentKey() (string, error) {
	if px.scopeKind == scope.Task && px.keyFunc == nil {
		return "", ErrNoKeyFunc
	}
	return scope.Resolve(px.scopeKind, px.keyFunc), nil
}

// HasObj reports whether the current scope already holds a resource,
// without acquiring one (§4.6 "_has_obj").
func (px *Proxy[T]) HasObj() bool {
	px.mu.RLock()
	shared := px.hasObj
	px.mu.RUnlock()
	if shared {
		return true
	}

	key, err := px.currentKey()
	if err != nil {
		return false
	}
	px.heldMu.Lock()
	_, ok := px.held[key]
	px.heldMu.Unlock()
	return ok
}

// GetObj resolves the resource for the current scope, acquiring it from the
// pool on first use within that scope (§4.6 "_get_obj").
func (px *Proxy[T]) GetObj(ctx context.Context) (T, error) {
	var zero T

	px.mu.RLock()
	shared, obj, p := px.hasObj, px.obj, px.p
	px.mu.RUnlock()

	if shared {
		return obj, nil
	}
	if p == nil {
		return zero, ErrNoObject
	}

	key, err := px.currentKey()
	if err != nil {
		return zero, err
	}

	px.heldMu.Lock()
	if cur, ok := px.held[key]; ok {
		px.heldMu.Unlock()
		return cur, nil
	}
	px.heldMu.Unlock()

	r, err := p.Acquire(ctx, key)
	if err != nil {
		return zero, err
	}

	px.heldMu.Lock()
	px.held[key] = r
	px.heldMu.Unlock()
	return r, nil
}

// RetObj returns the current scope's resource to the pool (§4.6 "_ret_obj").
// It is a no-op for a shared (unpooled) proxy or a scope holding nothing.
func (px *Proxy[T]) RetObj() {
	px.mu.RLock()
	shared, p := px.hasObj, px.p
	px.mu.RUnlock()
	if shared || p == nil {
		return
	}

	key, err := px.currentKey()
	if err != nil {
		return
	}

	px.heldMu.Lock()
	obj, ok := px.held[key]
	if ok {
		delete(px.held, key)
	}
	px.heldMu.Unlock()

	if ok {
		p.Release(obj)
	}
}

// With runs fn against the current scope's resource, acquiring it on entry
// and releasing it on exit — the scoped-resource-block use case of §4.6.
func (px *Proxy[T]) With(ctx context.Context, fn func(T) error) error {
	obj, err := px.GetObj(ctx)
	if err != nil {
		return err
	}
	defer px.RetObj()
	return fn(obj)
}

// Call is the static, reflection-free stand-in for attribute/method
// forwarding (§9): it resolves the current scope's resource and applies f
// to it, returning whatever f returns. Unlike With, it does not release the
// resource afterward — callers composing several forwarded calls against
// the same scope call RetObj explicitly when done, matching §4.6's "repeated
// forwarded calls from the same scope see the same resource until the
// caller explicitly returns it".
func Call[T comparable, R any](px *Proxy[T], ctx context.Context, f func(T) (R, error)) (R, error) {
	var zero R
	obj, err := px.GetObj(ctx)
	if err != nil {
		return zero, err
	}
	return f(obj)
}
