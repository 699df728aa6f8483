// Package app contains the core application logic. It defines the main App
// struct, its configuration, and the worker lifecycle, decoupled from any
// specific entrypoint like a CLI.
//
// An App owns the node-type catalog, the function registry, the persistence
// backend and the shared workspace engine. The worker command runs it with
// Run; the administrative commands only borrow its store and catalog.
package app
