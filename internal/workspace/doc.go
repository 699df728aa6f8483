/*
Package workspace implements the shared domain engine: one process-wide
variable workspace that every session executes against.

Lab values live in the workspace under generated variable names. Every
statement that creates or clears a variable is appended to a command log, so
a session can later extract the exact sequence of statements that produced
its values. Workspaces can be written to and restored from msgpack sidecar
files, and understand a handful of raw administrative commands.

# Thread Safety

An Engine is safe for concurrent use. Callers that need a sequence of
operations to be atomic with respect to other sessions (e.g. an entire node
execution) hold the execution lock owned by the middleware layer.
*/
package workspace
