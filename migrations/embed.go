// Package migrations holds the SQL schema applied at startup.
package migrations

import "embed"

// FS contains every *.up.sql migration, applied in lexical order.
//
//go:embed *.sql
var FS embed.FS
