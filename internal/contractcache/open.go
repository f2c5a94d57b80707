package contractcache

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/esisync/internal/db"
)

// Options selects and configures a backend.
type Options struct {
	Backend string // BackendFile (default) or BackendSurrealDB
	Dir     string // file backend directory
	DB      db.Config
}

// Open returns the configured store. The caller must Close it.
func Open(ctx context.Context, opts Options, log *slog.Logger) (Store, error) {
	switch opts.Backend {
	case "", BackendFile:
		return OpenFile(opts.Dir, log), nil
	case BackendSurrealDB:
		client, err := db.NewClient(ctx, opts.DB, log)
		if err != nil {
			return nil, fmt.Errorf("open contract cache: %w", err)
		}
		if err := client.InitSchema(ctx); err != nil {
			_ = client.Close(ctx)
			return nil, fmt.Errorf("open contract cache: %w", err)
		}
		return db.NewStore(client, true), nil
	}
	return nil, fmt.Errorf("unknown contract cache backend %q", opts.Backend)
}
