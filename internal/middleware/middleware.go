// Package middleware defines the collaborator through which graph sessions
// reach the shared domain engine, and its varname-tracking implementation.
package middleware

// Middleware mediates every interaction between one session's graph and the
// shared domain engine.
//
// # Why Middleware Exists
//
// The domain engine is a single mutable resource shared by all sessions. The
// middleware owns the bookkeeping that keeps sessions from leaking values
// into it:
//
//   - **Ownership:** Register/Deregister track which engine values a session
//     holds, so they can be saved, extracted from the command log, and
//     cleared on shutdown.
//   - **Serialization:** ExecuteThroughProxy runs a computation under the
//     process-wide execution lock and clears every temporary value the
//     computation created but nothing registered.
//   - **Persistence:** Save/Load write and read the session's values to an
//     external sidecar file.
//
// # Thread Safety
//
// A Middleware belongs to one session and is used by one worker at a time.
// Only ExecuteThroughProxy coordinates with other sessions, through the
// shared execution lock.
type Middleware interface {
	// Register marks v as held by the session.
	Register(v any)
	// Deregister releases v and clears it from the engine.
	Deregister(v any)
	// Track records a value created during a proxied call, with the
	// expression that produced it.
	Track(v any, origin string)
	// Bind returns the engine value held under varname and registers it.
	Bind(varname string) (any, error)
	// Names returns the registered variable names, sorted.
	Names() []string
	// Save writes the registered values to a sidecar file at path.
	Save(path string) error
	// Load reads a sidecar file into the engine.
	Load(path string) error
	// Clear releases every registered value without logging.
	Clear()
	// Finalize is called once when the session shuts down.
	Finalize()
	// ExecuteThroughProxy runs fn under the execution lock, registers its
	// result and clears unregistered temporaries.
	ExecuteThroughProxy(fn func() (any, error)) (any, error)
	// ExtractLogLines removes and returns the command log statements that
	// touched the session's current or former values.
	ExtractLogLines() []string
	// LogHeader returns a comment block that prefixes extracted logs.
	LogHeader() string
}
