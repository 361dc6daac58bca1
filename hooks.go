package pool

import (
	"fmt"

	"go.uber.org/zap"
)

// Hooks holds the optional user callbacks of §4.4 (C5). All are invoked
// outside the pool's lock. A nil hook is simply skipped.
type Hooks[T any] struct {
	// Opener runs once, right after a successful factory call.
	Opener func(T)
	// Getter runs before a resource is handed to a caller from Acquire.
	// A non-nil error here retires the resource and is propagated (§4.2 step 4).
	Getter func(T) error
	// Retter runs when a resource comes back via Release, before the pool
	// decides whether to recycle or retire it (§4.2 step 2).
	Retter func(T) error
	// Closer runs right before an entry is destroyed.
	Closer func(T)
	// Health is the liveness probe the housekeeper calls on idle entries
	// (§4.3 step 5) and Release calls on every returned resource not already
	// being retired. A false return, or an error, retires the entry.
	Health func(T) (bool, error)
	// Tracer produces a short diagnostic annotation for the stats snapshot.
	Tracer func(T) string
	// Stats lets the user merge custom counters into Stats().User.
	Stats func() map[string]any
}

// invokeOpener runs Opener, recovering and logging any panic — opener
// failures are logged only, never propagated (§4.4).
func (h Hooks[T]) invokeOpener(log *zap.Logger, obj T) {
	if h.Opener == nil {
		return
	}
	defer recoverAndLog(log, "opener")
	h.Opener(obj)
}

// invokeGetter runs Getter, turning a panic into an error so callers get the
// same "retire and propagate" treatment as a returned error (§4.2 step 4).
func (h Hooks[T]) invokeGetter(obj T) (err error) {
	if h.Getter == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("getter panicked: %v", r)
		}
	}()
	return h.Getter(obj)
}

// invokeRetter runs Retter, panic-safe, per §4.2 step 2.
func (h Hooks[T]) invokeRetter(obj T) (err error) {
	if h.Retter == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("retter panicked: %v", r)
		}
	}()
	return h.Retter(obj)
}

// invokeCloser runs Closer, recovering and logging any panic — destruction
// must never be interrupted by a misbehaving closer (§4.4).
func (h Hooks[T]) invokeCloser(log *zap.Logger, obj T) {
	if h.Closer == nil {
		return
	}
	defer recoverAndLog(log, "closer")
	h.Closer(obj)
}

// invokeHealth runs Health, panic-safe; a panic counts as unhealthy (§4.3 step 5).
func (h Hooks[T]) invokeHealth(obj T) (healthy bool, err error) {
	if h.Health == nil {
		return true, nil
	}
	defer func() {
		if r := recover(); r != nil {
			healthy, err = false, fmt.Errorf("health panicked: %v", r)
		}
	}()
	return h.Health(obj)
}

// invokeTracer runs Tracer, recovering and logging any panic and returning an
// empty trace — a trace string is purely
// diagnostic and must never be allowed to disrupt a stats snapshot.
func (h Hooks[T]) invokeTracer(log *zap.Logger, obj T) (trace string) {
	if h.Tracer == nil {
		return ""
	}
	defer func() {
		if r := recover(); r != nil {
			log.Warn("tracer hook panicked", zap.Any("panic", r))
			trace = ""
		}
	}()
	return h.Tracer(obj)
}

func recoverAndLog(log *zap.Logger, hook string) {
	if r := recover(); r != nil {
		log.Warn("pool hook panicked", zap.String("hook", hook), zap.Any("panic", r))
	}
}
