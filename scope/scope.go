// Package scope defines "who is asking" for the proxy (C7, §4.6): the
// discipline that maps a caller to the scope key the pool uses as its
// resource holder identity.
package scope

import (
	"bytes"
	"runtime"
	"strconv"
)

// Kind selects which scoping discipline a Proxy uses.
type Kind int

const (
	// Shared addresses one resource for the whole process; no pool needed.
	Shared Kind = iota
	// Thread addresses one resource per OS-thread-like execution context.
	Thread
	// Task addresses one resource per lightweight cooperative task, via an
	// injected KeyFunc (§4.6, §9 "Scope keys for lightweight tasks").
	Task
)

func (k Kind) String() string {
	switch k {
	case Shared:
		return "SHARED"
	case Thread:
		return "THREAD"
	case Task:
		return "TASK"
	default:
		return "UNKNOWN"
	}
}

// KeyFunc returns the identity of whoever is currently asking. The proxy
// does not link against any specific cooperative-task library; callers
// running on top of one inject a KeyFunc that reads that library's current
// task/fiber identity.
type KeyFunc func() string

// sharedKey is the constant holder identity for Kind == Shared.
const sharedKey = "shared"

// threadKey returns a best-effort identity for the calling goroutine. Go has
// no public goroutine-id API (and no OS-thread affinity guarantee across a
// goroutine's lifetime), so this parses the id out of a mini stack trace —
// the same technique used throughout the ecosystem wherever per-goroutine
// state is needed without passing a context value explicitly. It is a
// fallback identity, not a promise that two calls from "the same thread"
// in an OS sense always agree; see §9 "Scope keys for lightweight tasks":
// "when unavailable, the scope falls back to OS-thread identity" is read in
// reverse here, since Go does not expose real OS-thread identity to begin
// with.
func threadKey() string {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	return "goroutine:" + string(b)
}

// Resolve returns the current caller's scope key for kind, consulting fn
// only for Task. Resolve panics if kind is Task and fn is nil — a proxy
// configuration error the caller should catch at construction time, not on
// every access (see proxy.ErrNoKeyFunc for the non-panicking variant used
// by the Proxy type itself).
func Resolve(kind Kind, fn KeyFunc) string {
	switch kind {
	case Shared:
		return sharedKey
	case Thread:
		return threadKey()
	case Task:
		if fn == nil {
			panic("scope: Task kind requires a KeyFunc")
		}
		return fn()
	default:
		return sharedKey
	}
}

// IntKey is a convenience for KeyFunc implementations that track task
// identity as an integer (common for greenlet-id-style providers).
func IntKey(id int64) string { return strconv.FormatInt(id, 10) }
