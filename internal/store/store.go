// Package store implements the inventory cache: a local DuckDB database
// populated once from the vSphere collaborator's ListVMs() and then read
// back with squirrel-built SQL without re-hitting vCenter for every plan
// build, filter preview, or estimate. InventoryFilter applies its
// predicates in memory to the records List returns.
package store

import (
	"database/sql"

	_ "github.com/duckdb/duckdb-go/v2"
)

// NewDB opens a DuckDB database at path (":memory:" for an ephemeral cache).
func NewDB(path string) (*sql.DB, error) {
	return sql.Open("duckdb", path)
}

// Store provides access to all storage repositories.
type Store struct {
	db        *sql.DB
	inventory *InventoryStore
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:        db,
		inventory: NewInventoryStore(newInterceptor(db)),
	}
}

func (s *Store) Inventory() *InventoryStore {
	return s.inventory
}

func (s *Store) Close() error {
	return s.db.Close()
}
