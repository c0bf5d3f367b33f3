// Package schemasassets provides embedded JSON schemas for standalone binary behavior.
//
// Schemas are embedded at compile time so catalog validation works regardless
// of the working directory or installation location.
package schemasassets

import _ "embed"

// SimTypeCatalogSchema is the embedded simulation-type catalog schema.
//
//go:embed simtype-catalog.schema.json
var SimTypeCatalogSchema []byte
