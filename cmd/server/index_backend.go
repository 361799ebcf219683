package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"scenekeeper.ai/internal/config"
	"scenekeeper.ai/internal/persistence/indexdb"
)

// openRuntimeIndex opens the optional SQLite read model. A nil index with a
// nil error means indexing is off.
func openRuntimeIndex(cfg config.Config, disableDB bool, logger *log.Logger) (*indexdb.SQLiteIndex, error) {
	if disableDB || cfg.Index.Disabled {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv(config.EnvPrefix + "INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		dbPath := filepath.Join(cfg.DataDir, "index", "scenekeeper.sqlite")
		idx, err := indexdb.OpenSQLite(dbPath, cfg.Index.QueueSize)
		if err != nil {
			return nil, err
		}
		logger.Printf("index: sqlite %s", dbPath)
		return idx, nil
	default:
		return nil, fmt.Errorf("unsupported %sINDEX_BACKEND: %s", config.EnvPrefix, backend)
	}
}
