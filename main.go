package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/mbolis/matrix-survey/app"
	"github.com/mbolis/matrix-survey/config"
	"github.com/mbolis/matrix-survey/database"
	"github.com/mbolis/matrix-survey/log"
	"github.com/mbolis/matrix-survey/questions"
	"github.com/mbolis/matrix-survey/reconcile"
	"github.com/mbolis/matrix-survey/records"
	"github.com/mbolis/matrix-survey/responses"
	"github.com/mbolis/matrix-survey/routes"
	"github.com/mbolis/matrix-survey/sink"
	"github.com/mbolis/matrix-survey/storage"
)

func main() {
	cfg, err := config.ParseFlags()
	if err != nil {
		log.Fatal("main.config:", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}

	var db *sql.DB
	var store storage.Provider
	if cfg.DBUrl != "" {
		db, err = database.Open(cfg.DBUrl)
		if err != nil {
			log.Fatal("main.db.open:", err)
		}
		defer db.Close()
		kv := storage.SQLProvider{DB: db}
		if cfg.SessionTTL > 0 {
			go pruneSessions(context.Background(), kv, cfg.SessionTTL)
		}
		store = kv
	} else {
		log.Warn("main.db: no primary store configured, submissions will be refused")
		store = storage.NewMemoryProvider()
	}

	recs := records.NewSQLStore(db)
	if err := recs.Ping(context.Background()); err != nil {
		log.WithError(err).Warn("main.db.ping")
	}

	workflow := reconcile.New(recs)
	workflow.Policy = cfg.RetryPolicy()

	app := app.App{
		Config:     cfg,
		Storage:    store,
		Locks:      storage.NewLocks(),
		Records:    recs,
		Workflow:   workflow,
		Indicators: responses.NewIndicators(cfg.SavedDelay),
		Defaults:   questions.Defaults,
	}

	handler := routes.Wire(app)

	err = runServer(cfg, handler)
	if !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("main.server:", err)
	}
}

// pruneSessions drops session values nobody wrote for ttl, once an hour.
func pruneSessions(ctx context.Context, p storage.SQLProvider, ttl time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		n, err := p.Prune(ctx, storage.ScopeSession, time.Now().Add(-ttl))
		if err != nil {
			log.WithError(err).Warn("main.prune_sessions")
		} else if n > 0 {
			log.WithField("rows", n).Debug("main.prune_sessions")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func runServer(cfg config.Config, handler http.Handler) error {
	// a submission may wait for every push attempt and pause, then the
	// display delay
	pushes := time.Duration(cfg.RetryAttempts) * sink.DefaultTimeout
	for _, d := range cfg.RetryPolicy().Delays() {
		pushes += d
	}

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10*time.Second + pushes + cfg.DisplayDelay,
	}

	log.Info("Listening on " + cfg.Url())
	return srv.ListenAndServe()
}
