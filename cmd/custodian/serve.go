package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/custodian-dfir/custodian/internal/api"
	"github.com/custodian-dfir/custodian/internal/casestore"
	"github.com/custodian-dfir/custodian/internal/engine"
	"github.com/custodian-dfir/custodian/internal/logging"
	"github.com/custodian-dfir/custodian/internal/websocket"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Custodian HTTP server",
	Long:  `Start the HTTP API and WebSocket server. This is also what running custodian with no subcommand does.`,
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

func runServer() {
	// Baseline logger for startup messages before configuration loads.
	logging.Init(logging.Config{
		Format:    "auto",
		Level:     "info",
		Component: "custodian",
	})

	sess, err := newSession()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize")
	}

	log.Info().
		Str("case_root", sess.cfg.CaseRoot).
		Str("version", Version).
		Msg("Starting Custodian case server")

	hub := websocket.NewHub(func() interface{} {
		return sess.engine.ActiveCase()
	})
	go hub.Run()

	// Engine events go out to every connected client as they happen.
	sess.engine.Subscribe(func(evt engine.Event) {
		hub.Broadcast(string(evt.Type), evt)
	})

	// Surface case records edited outside this process (another session,
	// a restore, a hand edit). The engine filters out its own saves.
	watcher, err := casestore.NewWatcher(sess.store, log.Logger, sess.engine.NotifyRecordChanged)
	if err != nil {
		log.Warn().Err(err).Msg("Case record watcher unavailable")
	} else if err := watcher.Start(); err != nil {
		log.Warn().Err(err).Msg("Failed to start case record watcher")
	} else {
		defer watcher.Stop()
	}

	router := api.NewRouter(sess.cfg, sess.engine, hub, api.VersionInfo{
		Version:   Version,
		Commit:    GitCommit,
		BuildDate: BuildTime,
		Runtime:   runtime.Version(),
	})

	// ReadHeaderTimeout instead of ReadTimeout: a full-connection read
	// deadline would survive the WebSocket upgrade and kill idle clients.
	srv := &http.Server{
		Addr:              sess.cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", sess.cfg.ListenAddr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start HTTP server")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	// Mounts stay in place; the next session reconciles them.
	sess.close()
	log.Info().Msg("Server stopped")
}
