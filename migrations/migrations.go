package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

// Dir is the goose directory inside FS.
const Dir = "."
