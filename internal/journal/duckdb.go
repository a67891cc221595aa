package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/marcboeker/go-duckdb"
)

// Config holds database configuration.
type Config struct {
	DataDir string
	DBName  string
}

// openDuckDB opens the DuckDB file under <DataDir>/duckdb.
func openDuckDB(cfg Config) (*sql.DB, error) {
	dir := filepath.Join(cfg.DataDir, "duckdb")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create duckdb directory: %w", err)
	}
	name := cfg.DBName
	if name == "" {
		name = "campus"
	}
	return sql.Open("duckdb", filepath.Join(dir, name+".duckdb"))
}
