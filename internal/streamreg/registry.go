// Package streamreg implements the process-wide Stream Abort Registry (Component B):
// a thread-safe map from client request id to the cancellation controls for an
// in-flight stream, with authorization on abort.
package streamreg

import "sync"

// AbortHandle is anything that can be told to stop. Abort errors are swallowed by the
// registry; the cancel flag still flips to true regardless of the handle's outcome.
type AbortHandle interface {
	Abort(reason string)
}

// AbortHandleFunc adapts a plain function to AbortHandle.
type AbortHandleFunc func(reason string)

func (f AbortHandleFunc) Abort(reason string) { f(reason) }

// Entry is one registered in-flight stream's cancellation state.
type Entry struct {
	RequestID   string
	AbortHandle AbortHandle
	UserID      *string // nil means unowned: any caller may abort it.

	mu        sync.Mutex
	cancelled bool
}

// Cancelled reports whether this entry has been aborted.
func (e *Entry) Cancelled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled
}

func (e *Entry) setCancelled() {
	e.mu.Lock()
	e.cancelled = true
	e.mu.Unlock()
}

// Registry is a concurrent map of request id -> Entry. The zero value is ready to use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// New returns a ready-to-use Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Register records an entry for requestID. It is a no-op if requestID is empty or
// handle is nil. Re-registration overwrites any prior entry for the same id.
func (r *Registry) Register(requestID string, handle AbortHandle, userID *string) {
	if requestID == "" || handle == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries == nil {
		r.entries = make(map[string]*Entry)
	}
	r.entries[requestID] = &Entry{
		RequestID:   requestID,
		AbortHandle: handle,
		UserID:      userID,
	}
}

// Unregister removes requestID from the registry, if present.
func (r *Registry) Unregister(requestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, requestID)
}

// Lookup returns the entry for requestID, if any.
func (r *Registry) Lookup(requestID string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[requestID]
	return e, ok
}

// Abort authorizes and executes cancellation of requestID on behalf of
// requestingUserID. Authorization succeeds iff the stored owner is nil or equals
// requestingUserID. On success, the cancel flag is set and the abort handle invoked
// (panics from the handle are recovered and swallowed); the cancel flag becomes true
// regardless. Aborting an already-aborted or unknown entry returns false only when the
// entry does not exist; aborting twice is idempotent and returns true both times.
func (r *Registry) Abort(requestID string, requestingUserID *string) bool {
	r.mu.RLock()
	e, ok := r.entries[requestID]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	if e.UserID != nil {
		if requestingUserID == nil || *requestingUserID != *e.UserID {
			return false
		}
	}

	e.setCancelled()
	func() {
		defer func() { recover() }()
		if e.AbortHandle != nil {
			e.AbortHandle.Abort("client_stop")
		}
	}()
	return true
}
