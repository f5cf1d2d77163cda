// Package migrations holds the SQLite schema of the order history.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
