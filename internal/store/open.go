package store

import (
	"context"
	"fmt"

	"github.com/zhouzirui/onthisday/backend/internal/config"
)

// Open builds the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "file":
		fileStore, err := NewFileStore(cfg.DSN)
		if err != nil {
			return nil, err
		}
		return fileStore, nil
	case "sqlite":
		sqlStore, err := OpenSQLite(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return sqlStore, nil
	case "postgres":
		sqlStore, err := OpenPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return sqlStore, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
