// Package pathutil provides centralized path management for ledger data files.
package pathutil

import "path/filepath"

// PathResolver manages paths for the ledger database and its data directory.
type PathResolver struct {
	dataDir      string
	databasePath string
}

// Config represents the configuration for PathResolver.
type Config struct {
	// DataDir is the directory holding ledger data (e.g., ./data)
	DataDir string
	// DatabasePath is the SQLite database file path
	DatabasePath string
}

// New creates a new PathResolver with the given configuration.
// If DataDir is empty, it defaults to ./data.
// If DatabasePath is empty, it defaults to {DataDir}/ledger.db.
// A relative DatabasePath stays relative to the working directory.
func New(config Config) *PathResolver {
	dataDir := config.DataDir
	if dataDir == "" {
		dataDir = "data"
	}

	dbPath := config.DatabasePath
	if dbPath == "" {
		dbPath = filepath.Join(dataDir, "ledger.db")
	}

	return &PathResolver{
		dataDir:      filepath.Clean(dataDir),
		databasePath: filepath.Clean(dbPath),
	}
}

// GetDataDir returns the data directory.
func (p *PathResolver) GetDataDir() string {
	return p.dataDir
}

// GetDatabasePath returns the database file path.
func (p *PathResolver) GetDatabasePath() string {
	return p.databasePath
}
