// Package migrations embeds the SQL schema applied by golang-migrate
package migrations

import "embed"

// Dir is the directory inside FS holding the migration files
const Dir = "."

//go:embed *.sql
var FS embed.FS
