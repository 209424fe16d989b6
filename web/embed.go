// Package web holds the console's templates and browser assets.
package web

import "embed"

// Templates holds layouts, partials and pages.
//
//go:embed templates/layouts templates/partials templates/pages
var Templates embed.FS

// Static holds the stylesheet and the session script served under /static/.
//
//go:embed static
var Static embed.FS
