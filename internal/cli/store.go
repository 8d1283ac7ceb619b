package cli

import (
	"fmt"

	"github.com/calvinalkan/tdb"
	"github.com/calvinalkan/tdb/internal/config"
)

// openStore opens the database directory with the tunables resolved for
// this invocation. Every command opens and closes its own Store - there is
// no long-lived handle shared across commands (repl is the one exception,
// which opens a single Store for its whole session).
func openStore(dir string, cfg config.Config) (*tdb.Store, error) {
	opts := tdb.Options{
		ImmutCacheCapacity: cfg.ImmutCacheCapacity,
		MetaLogMaxSize:     cfg.MetaLogMaxSizeBytes,
		TableInitialPages:  cfg.TableInitialPages,
	}

	db, err := tdb.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	return db, nil
}
