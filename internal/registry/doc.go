// Package registry provides the central "glue" between the node-type catalog
// and the compiled lab library.
//
// The Registry stores mappings between the string identifiers used in the
// catalog (e.g. "linspace" or "Dataset.scale") and the Go functions, value
// types and methods that implement them. Registered functions are invoked
// through Function.Call, which binds positional and named arguments, fills
// parameter defaults and coerces loosely typed editor input (JSON numbers,
// strings, lists) into the Go parameter types using go-cty.
//
// During application startup, the registry is populated by every module's
// Register method and then validated against the catalog with
// ValidateCatalog, so that a catalog entry can never name code that does not
// exist.
package registry
