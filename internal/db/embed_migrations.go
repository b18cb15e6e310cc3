package db

import "embed"

// MigrationFS embeds SQL migration files from internal/db/migrations.
// Applied by internal/db/migrate (cmd/migrate, or cmd/server with -migrate).
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
