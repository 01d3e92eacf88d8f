package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/caselaw-cli/internal/config"
	"github.com/sells-group/caselaw-cli/internal/store"
)

// defaultSQLitePath is used when the sqlite driver has no database_url.
const defaultSQLitePath = "caselaw.db"

func storeOptions(c *config.Config) store.Options {
	return store.Options{
		Table:    c.Store.Table,
		Dim:      c.Embed.Dim,
		MaxConns: c.Store.MaxConns,
		MinConns: c.Store.MinConns,
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = defaultSQLitePath
		}
		return store.NewSQLite(dsn, storeOptions(cfg))
	case "postgres":
		if err := cfg.ValidateStore(); err != nil {
			return nil, err
		}
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, storeOptions(cfg))
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore connects and migrates. Callers should defer Close.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}
