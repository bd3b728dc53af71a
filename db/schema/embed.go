// Package schema holds the Postgres migrations in golang-migrate layout.
package schema

import "embed"

// Migrations are the NNN_description.{up,down}.sql files of this directory.
//
//go:embed *.sql
var Migrations embed.FS
