package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/Mschirtzinger/cloudtodo/internal/cloud"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/codec"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/coordinator"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/db"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/identity"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/publish"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/reconcile"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/remote"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/remote/dirstore"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/remote/memstore"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/remote/s3store"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/schema"
	"github.com/Mschirtzinger/cloudtodo/internal/config"
	"github.com/Mschirtzinger/cloudtodo/internal/metrics"
)

// app holds the components a command works with. Remote components are
// only set when the app was opened with a remote.
type app struct {
	db *db.DB

	store      remote.Store
	recordsDir string // set for the dir backend
	session    identity.Session
	directory  *identity.Directory
	resolver   *identity.Resolver
	codec      *codec.Codec
	machine    *publish.Machine
	engine     *reconcile.Engine
	coord      *coordinator.Coordinator
	metrics    *metrics.Metrics
}

// openLocal opens the local database only.
func openLocal() (*app, error) {
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	if err := database.InitSchema(); err != nil {
		_ = database.Close()
		return nil, err
	}
	return &app{db: database}, nil
}

// openRemote opens the local database and wires the remote store, the
// publish machine, the reconciliation engine and the coordinator. Extra
// observers are notified alongside the metrics collectors.
func openRemote(ctx context.Context, observers ...coordinator.Observer) (*app, error) {
	a, err := openLocal()
	if err != nil {
		return nil, err
	}

	account := cfg.Account.ID
	a.session = identity.StaticSession{ID: account}

	a.store, a.recordsDir, err = openStore(ctx, cfg, account, logs.For("remote"))
	if err != nil {
		a.Close()
		return nil, err
	}

	a.directory, err = identity.LoadDirectory(cfg.Identity.Directory, a.session)
	if err != nil {
		a.Close()
		return nil, err
	}
	if account != "" && (cfg.Account.GivenName != "" || cfg.Account.FamilyName != "" || cfg.Account.Nickname != "") {
		_ = a.directory.Add(identity.Identity{
			UserID:     account,
			GivenName:  cfg.Account.GivenName,
			FamilyName: cfg.Account.FamilyName,
			Nickname:   cfg.Account.Nickname,
		})
	}

	a.resolver = identity.NewResolver(a.directory, a.session, logs.Warnings("identity"))
	a.codec = codec.New(account, logs.Warnings("codec"))
	a.machine = publish.NewMachine(a.store, a.codec, logs.For("publish"))
	a.engine = reconcile.New(a.store, a.db, a.codec, a.resolver, logs.For("reconcile"))
	a.metrics = metrics.New()

	observer := coordinator.MultiObserver{a.metrics}
	observer = append(observer, observers...)
	a.coord = coordinator.NewWithConfig(a.machine, a.engine, &coordinator.Config{
		MaxConcurrency: cfg.Sync.MaxConcurrency,
		Observer:       observer,
		Logger:         logs.For("coordinator"),
	})
	return a, nil
}

// openStore builds the configured remote store.
func openStore(ctx context.Context, cfg *config.Config, account string, logger *log.Logger) (remote.Store, string, error) {
	switch cfg.Remote.Backend {
	case config.BackendMemory:
		return memstore.NewServer().Client(account), "", nil
	case config.BackendDir:
		s, err := dirstore.New(cfg.Remote.Dir, account, logger)
		if err != nil {
			return nil, "", err
		}
		return s, s.RecordsDir(), nil
	case config.BackendS3:
		s, err := s3store.Open(ctx, s3store.Options{
			Bucket:           cfg.Remote.S3.Bucket,
			Prefix:           cfg.Remote.S3.Prefix,
			Region:           cfg.Remote.S3.Region,
			Endpoint:         cfg.Remote.S3.Endpoint,
			PathStyle:        cfg.Remote.S3.PathStyle,
			FetchConcurrency: cfg.Remote.S3.FetchConcurrency,
			Logger:           logger,
		}, account)
		if err != nil {
			return nil, "", err
		}
		return s, "", nil
	default:
		return nil, "", fmt.Errorf("unknown remote backend %q", cfg.Remote.Backend)
	}
}

// requireAccount fails when no account is signed in.
func (a *app) requireAccount() error {
	if !a.session.Available() {
		return fmt.Errorf("%w: set account.id in %s or CLOUDTODO_ACCOUNT_ID", cloud.ErrSessionUnavailable, configFileLabel())
	}
	return nil
}

// Close waits for queued work and closes the database.
func (a *app) Close() {
	if a.coord != nil {
		_ = a.coord.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Error closing database: %v\n", err)
		}
	}
}

func configFileLabel() string {
	if cfg != nil && cfg.File != "" {
		return cfg.File
	}
	return config.DefaultPath()
}

// mustLocal opens the local app or exits.
func mustLocal() *app {
	a, err := openLocal()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	return a
}

// mustRemote opens the full app or exits.
func mustRemote(ctx context.Context, observers ...coordinator.Observer) *app {
	a, err := openRemote(ctx, observers...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening remote store: %v\n", err)
		os.Exit(1)
	}
	return a
}

// findTodo resolves an id or unique prefix or exits.
func (a *app) findTodo(ctx context.Context, idOrPrefix string) *schema.TodoItem {
	item, err := a.db.FindTodo(ctx, idOrPrefix)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return item
}
