package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/speaker-id/internal/config"
	"github.com/snarg/speaker-id/internal/database"
	"github.com/snarg/speaker-id/internal/metrics"
	"github.com/snarg/speaker-id/internal/mqttclient"
	"github.com/snarg/speaker-id/internal/speaker"
	"github.com/snarg/speaker-id/internal/storage"
)

// app holds the collaborators every subcommand works against.
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	db       *database.DB
	mqtt     *mqttclient.Client
	samples  storage.SampleStore
	services []storage.BackgroundService
	store    *speaker.Store
	engine   *speaker.Engine
}

// storeIndex defers to the store once it is open; the sample pruner is
// built before the store exists.
type storeIndex struct {
	store *speaker.Store
}

func (i *storeIndex) SampleFiles() map[string][]string {
	if i.store == nil {
		return nil
	}
	return i.store.SampleFiles()
}

func newLogger(level string, out io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(out).With().Timestamp().Logger().Level(lvl)
}

// setup loads configuration and opens the store. events enables the MQTT
// publisher when a broker is configured.
func setup(ctx context.Context, logOut io.Writer, events bool) (*app, error) {
	cfg, err := config.Load(flags)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	a := &app{cfg: cfg, log: newLogger(cfg.LogLevel, logOut)}

	if err := a.open(ctx, events); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) open(ctx context.Context, events bool) error {
	cfg := a.cfg

	// Store document
	var persister speaker.Persister
	if cfg.DatabaseURL != "" {
		db, err := database.Connect(ctx, database.Options{
			URL:      cfg.DatabaseURL,
			MaxConns: cfg.DatabaseMaxConns,
			Document: cfg.DatabaseDocument,
			Log:      a.log,
		})
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		a.db = db
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		persister = metrics.InstrumentPersister(database.NewPersister(db), "postgres")
	} else {
		persister = metrics.InstrumentPersister(speaker.NewFilePersister(cfg.StoreFile), "file")
	}

	// Event publisher
	var notifier speaker.Notifier
	if events && cfg.MQTTBrokerURL != "" {
		client, err := mqttclient.Connect(mqttclient.Options{
			BrokerURL:   cfg.MQTTBrokerURL,
			ClientID:    cfg.MQTTClientID,
			TopicPrefix: cfg.MQTTTopicPrefix,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			Log:         a.log,
		})
		if err != nil {
			return fmt.Errorf("connect to mqtt broker: %w", err)
		}
		a.mqtt = client
		notifier = client
	}

	// Sample storage
	index := &storeIndex{}
	samples, services, err := storage.New(cfg.S3, cfg.SamplesDir, index, a.log)
	if err != nil {
		return err
	}
	a.samples = samples

	store, err := speaker.Open(ctx, speaker.Options{
		Persister: persister,
		Samples:   samples,
		Notifier:  notifier,
		Log:       a.log,
	})
	if err != nil {
		return err
	}
	a.services = services
	index.store = store
	a.store = store
	a.engine = speaker.NewEngine(store, cfg.MatchThreshold, a.log)

	for _, s := range a.services {
		s.Start()
	}
	return nil
}

// close flushes the store and releases connections. Safe on a partially
// opened app.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.store != nil {
		if err := a.store.Close(ctx); err != nil {
			a.log.Error().Err(err).Msg("final store persist failed")
		}
	}
	for _, s := range a.services {
		s.Stop()
	}
	if a.mqtt != nil {
		a.mqtt.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}
