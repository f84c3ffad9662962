package pg

import "embed"

// Migrations holds the golang-migrate schema files.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// Seeds holds idempotent demo data.
//
//go:embed seeds/*.sql
var Seeds embed.FS
