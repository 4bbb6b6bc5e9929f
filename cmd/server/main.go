package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Brownie44l1/caption-api/internal/caption"
	"github.com/Brownie44l1/caption-api/internal/config"
	"github.com/Brownie44l1/caption-api/internal/handlers"
	"github.com/Brownie44l1/caption-api/internal/logging"
)

const shutdownTimeout = 10 * time.Second

var configPath string

var configFlag = &cli.StringFlag{
	Name:        "config",
	Usage:       "Path to the YAML config. Falls back to $CAPTION_CONFIG, .config.yaml and config.yaml",
	Aliases:     []string{"c"},
	Destination: &configPath,
}

var serveCommand = &cli.Command{
	Name:   "serve",
	Usage:  "Start the captioning HTTP server (default)",
	Action: serve,
}

func newApp() *cli.App {
	return &cli.App{
		Name:     "caption-api",
		Usage:    "Generate image captions over HTTP or from the command line",
		Flags:    []cli.Flag{configFlag},
		Commands: []*cli.Command{serveCommand, captionCommand},
		Action:   serve,
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads the config and logger and builds the captioner. The returned
// cleanup closes both.
func setup(ctx context.Context) (*config.Config, *zap.SugaredLogger, *caption.Captioner, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format, cfg.Log.File)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	captioner, err := caption.Build(ctx, cfg, log)
	if err != nil {
		log.Errorw("Startup failed", "error", err)
		_ = log.Sync()
		return nil, nil, nil, nil, err
	}
	cleanup := func() {
		if err := captioner.Close(); err != nil {
			log.Warnw("Failed to release models", "error", err)
		}
		_ = log.Sync()
	}
	return cfg, log, captioner, cleanup, nil
}

func serve(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, log, captioner, cleanup, err := setup(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	gin.SetMode(cfg.Server.Mode)
	router := handlers.NewRouter(handlers.NewHandler(captioner, cfg.Server.MaxUploadBytes), log, cfg.Server.AllowedOrigins)

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		info := captioner.Info()
		log.Infow("Server starting", "addr", httpServer.Addr, "runtime", info.Runtime,
			"max_length", info.MaxLength, "vocab_size", info.VocabSize)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-groupCtx.Done()
		log.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		log.Info("HTTP server stopped")
		return nil
	})

	return g.Wait()
}
