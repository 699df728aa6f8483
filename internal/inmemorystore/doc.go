// Package inmemorystore provides a thread-safe, in-memory implementation
// of the store.Store interface. It is suitable for development, testing,
// or any single-process deployment where queued requests and session
// records do not need to survive a restart.
package inmemorystore
