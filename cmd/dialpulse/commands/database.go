package commands

import (
	"database/sql"

	"github.com/teranos/dialpulse/am"
	"github.com/teranos/dialpulse/db"
	"github.com/teranos/dialpulse/errors"
	"github.com/teranos/dialpulse/logger"
	"github.com/teranos/dialpulse/pulse/contacts"
	"github.com/teranos/dialpulse/pulse/control"
	"github.com/teranos/dialpulse/pulse/execution"
	"github.com/teranos/dialpulse/pulse/queue"
	"github.com/teranos/dialpulse/pulse/stats"
)

// cliInstanceID identifies control messages published from the CLI
const cliInstanceID = "cli"

// openDatabase loads config, then opens and migrates the configured database
func openDatabase() (*am.Config, *sql.DB, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to load config")
	}
	path := cfg.GetDatabasePath()
	database, err := db.OpenWithMigrations(path, logger.Logger)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to open database at %s", path)
	}
	return cfg, database, nil
}

// services are the stores and the manager shared by daemon and CLI commands
type services struct {
	cfg      *am.Config
	db       *sql.DB
	bus      *control.Bus
	queue    *queue.Store
	contacts *contacts.Store
	stats    *stats.Sink
	store    *execution.Store
	manager  *execution.Manager
}

func openServices(instanceID string) (*services, error) {
	cfg, database, err := openDatabase()
	if err != nil {
		return nil, err
	}
	registry, err := execution.NewRegistry()
	if err != nil {
		database.Close()
		return nil, err
	}

	s := &services{
		cfg:      cfg,
		db:       database,
		bus:      control.NewBus(database, instanceID, logger.Logger),
		queue:    queue.NewStore(database),
		contacts: contacts.NewStore(database),
		stats:    stats.NewSink(database),
		store:    execution.NewStore(database),
	}
	s.manager = execution.NewManager(s.store, registry, execution.Collaborators{
		Publisher: s.bus,
		Records:   s.queue,
		Contacts:  s.contacts,
		Stats:     s.stats,
	}, cfg.Dialer.GlobalMaxCPA, logger.Logger)
	return s, nil
}

func (s *services) Close() error {
	return s.db.Close()
}
