package pathutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		dataDir string
		dbPath  string
	}{
		{
			name:    "defaults",
			config:  Config{},
			dataDir: "data",
			dbPath:  filepath.Join("data", "ledger.db"),
		},
		{
			name:    "database under data dir",
			config:  Config{DataDir: "/var/lib/ledger/"},
			dataDir: "/var/lib/ledger",
			dbPath:  "/var/lib/ledger/ledger.db",
		},
		{
			name:    "explicit database path",
			config:  Config{DataDir: "/var/lib/ledger", DatabasePath: "./books//main.db"},
			dataDir: "/var/lib/ledger",
			dbPath:  filepath.Join("books", "main.db"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.config)
			assert.Equal(t, tt.dataDir, p.GetDataDir())
			assert.Equal(t, tt.dbPath, p.GetDatabasePath())
		})
	}
}
