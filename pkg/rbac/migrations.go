package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Dialect-specific fragments substituted into migration SQL
const (
	idColumnToken  = "{{id}}"
	timestampToken = "{{timestamp}}"
)

var dialects = map[string]map[string]string{
	"postgres": {
		idColumnToken:  "BIGSERIAL PRIMARY KEY",
		timestampToken: "TIMESTAMPTZ NOT NULL DEFAULT NOW()",
	},
	"sqlite3": {
		idColumnToken:  "INTEGER PRIMARY KEY AUTOINCREMENT",
		timestampToken: "TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP",
	},
}

// GetMigrations returns all credential store migrations
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id {{id}},
					username VARCHAR(255) NOT NULL UNIQUE,
					created_at {{timestamp}}
				);
			`,
		},
		{
			Version:     2,
			Description: "Create roles and permissions tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					id {{id}},
					name VARCHAR(100) NOT NULL UNIQUE,
					level INTEGER NOT NULL DEFAULT 0,
					created_at {{timestamp}}
				);

				CREATE TABLE IF NOT EXISTS permissions (
					id {{id}},
					code VARCHAR(200) NOT NULL UNIQUE,
					resource VARCHAR(100) NOT NULL,
					action VARCHAR(100) NOT NULL,
					created_at {{timestamp}}
				);
			`,
		},
		{
			Version:     3,
			Description: "Create assignment tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_roles (
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					granted_at {{timestamp}},
					PRIMARY KEY (user_id, role_id)
				);

				CREATE TABLE IF NOT EXISTS role_permissions (
					role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					permission_id BIGINT NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
					granted_at {{timestamp}},
					PRIMARY KEY (role_id, permission_id)
				);

				CREATE INDEX IF NOT EXISTS idx_user_roles_role_id ON user_roles(role_id);
				CREATE INDEX IF NOT EXISTS idx_role_permissions_permission_id ON role_permissions(permission_id);
			`,
		},
	}
}

// Migrate runs every pending migration for driver ("postgres" or "sqlite3")
func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	fragments, ok := dialects[driver]
	if !ok {
		return fmt.Errorf("unsupported database driver %q", driver)
	}

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS rbac_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at `+fragments[timestampToken]+`
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM rbac_migrations")
	if err != nil {
		return fmt.Errorf("failed to query applied migrations: %w", err)
	}
	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}

		stmt := migration.SQL
		for token, fragment := range fragments {
			stmt = strings.ReplaceAll(stmt, token, fragment)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO rbac_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
