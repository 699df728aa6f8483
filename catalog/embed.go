// Package catalog embeds the default node-type catalog shipped with flowlab.
package catalog

import "embed"

// FS holds the *.hcl catalog files.
//
//go:embed *.hcl
var FS embed.FS
