// Package worker turns the persisted request queue into graph mutations and
// executions.
//
// A Pool runs one drain loop that claims queued requests from the store, N
// workers that process them, a cleanup loop that evicts idle sessions and a
// monitor loop that samples aggregate counts. Requests are dispatched by
// session id: every request for one session goes to the same worker, so a
// session is never touched by two workers at once and its requests run in
// the order they were queued.
//
// Every request gets exactly one reply. Handler errors and panics become a
// reply carrying "fatalerror".
package worker
