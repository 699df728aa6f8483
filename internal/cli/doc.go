// Package cli is the cobra command tree of the flowlab binary. It resolves
// the layered configuration (defaults, HCL file, environment, flags),
// validates user input, and handles process-level concerns like exit
// codes.
//
// Subcommands:
//
//	worker                     run the worker pool until interrupted
//	admin show-vars            list the workspace variables
//	admin reset-all            drop every live session and soft snapshot
//	admin shutdown-all         autosave and evict every live session
//	admin exec CMD...          evaluate a raw workspace command
//	purge                      delete every queued request and reply
//	examples export|import|demote
//	catalog                    print the loaded node-type catalog
package cli
