// Command server runs the matrix2irc gateway: an IRC listener on one
// side, an admin HTTP sidecar on the other. Both are built from the same
// configuration and logger, and the sidecar reads the listener's live
// session registry.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/nethesis/matrix2irc/adminhttp"
	"github.com/nethesis/matrix2irc/config"
	"github.com/nethesis/matrix2irc/ircserver"
	"github.com/nethesis/matrix2irc/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger.Init(logger.Level(cfg.LogLevel))
	logger.Info().Str("level", cfg.LogLevel).Msg("logger initialized")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	srv := ircserver.New(ircserver.Config{
		ListenAddr:      cfg.IRCListenAddr,
		TLSCert:         cfg.IRCTLSCert,
		TLSKey:          cfg.IRCTLSKey,
		ServerName:      cfg.ServerName,
		HomeserverURL:   cfg.MatrixHomeserverURL,
		LoginType:       cfg.MatrixLoginType,
		SyncTimeout:     cfg.SyncTimeout,
		ReplayQueueSize: cfg.ReplayQueueSize,
	})

	admin := adminhttp.New(srv, cfg.AdminToken)

	go func() {
		logger.Info().Str("addr", cfg.AdminListenAddr).Msg("starting admin HTTP sidecar")
		if err := admin.Start(cfg.AdminListenAddr); err != nil {
			logger.Warn().Err(err).Msg("admin HTTP sidecar stopped")
		}
	}()

	logger.Info().Str("addr", cfg.IRCListenAddr).Msg("starting IRC listener")
	if err := srv.Serve(ctx); err != nil {
		logger.Fatal().Err(err).Msg("IRC listener stopped")
	}

	logger.Info().Msg("shutdown complete")
}
