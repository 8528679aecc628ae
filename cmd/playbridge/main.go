// Package main provides the playbridge daemon entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/playbridge/internal/api/ws"
	"github.com/osa030/playbridge/internal/app/filter"
	"github.com/osa030/playbridge/internal/app/resolver"
	"github.com/osa030/playbridge/internal/app/session"
	"github.com/osa030/playbridge/internal/infra/config"
	"github.com/osa030/playbridge/internal/infra/inhibit"
	"github.com/osa030/playbridge/internal/infra/lastfm"
	"github.com/osa030/playbridge/internal/infra/logger"
	"github.com/osa030/playbridge/internal/infra/mpris"
	"github.com/osa030/playbridge/internal/infra/mpv"
	"github.com/osa030/playbridge/internal/infra/spotify"
)

var (
	app        = kingpin.New("playbridge", "playbridge background player daemon")
	configPath = app.Flag("config", "Path to config file").Default(config.DefaultPath()).String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	// list-filters command
	listFiltersCmd = app.Command("list-filters", "List available filters and exit")

	// list-sources command
	listSourcesCmd = app.Command("list-sources", "List configured track sources and exit")
)

func init() {
	// start command (default) - no need to store the command
	app.Command("start", "Start the player (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	// Parse command
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	// Handle list-filters command
	if command == listFiltersCmd.FullCommand() {
		printFilters()
		return
	}

	// Initialize logger
	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
		loggerConfig.File = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	// Load config
	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if command == listSourcesCmd.FullCommand() {
		if err := printSources(cfg); err != nil {
			zlog.Fatal().Msgf("Failed to list sources: %v", err)
		}
		return
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Player error: %v", err)
		os.Exit(1)
	}
}

// run executes the main daemon logic. Using a separate function ensures
// deferred cleanup runs even when returning with an error.
func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps := session.Deps{}

	// Spotify is optional
	if cfg.Spotify.HasCredentials() {
		spotifyClient, err := spotify.New(ctx, spotify.Config{
			ClientID:     cfg.Spotify.ClientID,
			ClientSecret: cfg.Spotify.ClientSecret,
			RefreshToken: cfg.Spotify.RefreshToken,
			Market:       cfg.Spotify.Market,
		})
		if err != nil {
			return errors.Wrap(err, "failed to create Spotify client")
		}
		deps.Spotify = spotifyClient
	}

	// Media engine
	engine := mpv.New(mpv.Config{
		ClientName:       cfg.Player.ClientName,
		AudioDevice:      cfg.Player.AudioDevice,
		CacheMB:          cfg.Player.CacheMB,
		ProgressInterval: cfg.Player.ProgressInterval(),
	})
	if err := engine.Init(); err != nil {
		return errors.Wrap(err, "failed to initialize media engine")
	}
	defer engine.Destroy()
	deps.Engine = engine

	// OS now-playing surface, with Last.fm artwork when a key is configured
	surfaceConfig := mpris.Config{PlayerName: cfg.Player.Name}
	if cfg.LastFm.APIKey != "" {
		lastfmClient, err := lastfm.New(lastfm.Config{APIKey: cfg.LastFm.APIKey})
		if err != nil {
			return errors.Wrap(err, "failed to create Last.fm client")
		}
		surfaceConfig.Artwork = lastfmClient
	}
	deps.Surface = mpris.New(surfaceConfig)

	// Sleep inhibitor
	inhibitor := inhibit.New(inhibit.Config{Who: cfg.Player.Name})
	go inhibitor.Run(ctx)
	deps.Sleep = inhibitor

	// Create session manager
	sessionMgr, err := session.NewManager(cfg, deps)
	if err != nil {
		return errors.Wrap(err, "failed to create session manager")
	}
	defer sessionMgr.Close()

	// Control API server
	server, err := ws.NewServer(cfg.Server.Addr, ws.NewHandler(sessionMgr).Routes(cfg.Control.Token))
	if err != nil {
		return err
	}
	if cfg.Control.Token == "" {
		zlog.Warn().Msg("Control token not configured, the control API is unauthenticated")
	}

	if err := sessionMgr.Start(ctx); err != nil {
		return errors.Wrap(err, "failed to start session")
	}

	serverCtx, stopServer := context.WithCancel(context.Background())
	defer stopServer()
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- server.Run(serverCtx)
	}()

	// Execute startup hook if configured (after server is running)
	executeHooks(cfg.Server.Hooks.OnStarted, "on_started")

	// Wait for shutdown signal, session end, or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
	case <-sessionMgr.Done():
		zlog.Info().Msg("Session ended, shutting down...")
	case err := <-serverErrCh:
		runErr = errors.Wrap(err, "server error")
	}

	// Close session manager first so websocket clients are told it went away
	sessionMgr.Close()

	stopServer()
	if runErr == nil {
		select {
		case err := <-serverErrCh:
			if err != nil {
				zlog.Error().Msgf("Failed to shutdown server: %v", err)
			}
		case <-time.After(15 * time.Second):
			zlog.Warn().Msg("Server shutdown timed out")
		}
	}

	zlog.Info().Msg("Player stopped")

	// Execute shutdown hook if configured
	executeHooks(cfg.Server.Hooks.OnStopped, "on_stopped")

	return runErr
}

// printFilters prints available filters.
func printFilters() {
	fmt.Println("Available Filters:")
	for _, factory := range filter.GetRegistered() {
		f := factory()
		codes := strings.Join(f.ReturnCodes(), ", ")
		fmt.Printf("  %-30s - %s [codes: %s]\n", f.Name(), f.Description(), codes)
	}
}

// printSources prints configured track sources in lookup order.
func printSources(cfg *config.Config) error {
	var spotifyClient resolver.SpotifyClient
	if cfg.Spotify.HasCredentials() {
		c, err := spotify.New(context.Background(), spotify.Config{
			ClientID:     cfg.Spotify.ClientID,
			ClientSecret: cfg.Spotify.ClientSecret,
			RefreshToken: cfg.Spotify.RefreshToken,
			Market:       cfg.Spotify.Market,
		})
		if err != nil {
			return err
		}
		spotifyClient = c
	}

	chain, err := resolver.NewChainFromConfig(cfg, spotifyClient)
	if err != nil {
		return err
	}

	fmt.Println("Track Sources:")
	for i, s := range chain.Sources() {
		fmt.Printf("  %d. %-20s (%s)\n", i+1, s.DisplayName, s.Source.Name())
	}
	return nil
}

// executeHooks runs a list of shell commands.
func executeHooks(hooks []string, stage string) {
	if len(hooks) == 0 {
		return
	}

	zlog.Info().Msgf("Executing %s hooks (%d commands)", stage, len(hooks))

	for _, hook := range hooks {
		zlog.Info().Msgf("Executing hook: %s", hook)
		// Use sh -c to allow shell features like redirection or pipes
		cmd := exec.Command("sh", "-c", hook)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			zlog.Error().Err(err).Msgf("Failed to execute hook: %s", hook)
		}
	}
}
