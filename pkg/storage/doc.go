// Package storage opens the connections shared by the auth core: the SQL
// credential store (PostgreSQL, or SQLite for development) and the Redis
// client backing the shared revocation registry and permission cache.
package storage
