package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/talkincode/toughwa/config"
	"github.com/talkincode/toughwa/internal/api"
	"github.com/talkincode/toughwa/internal/app"
	"github.com/talkincode/toughwa/internal/auth"
	"github.com/talkincode/toughwa/internal/webserver"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	conffile = flag.String("c", "", "config yaml file")
	initdb   = flag.Bool("initdb", false, "drop and recreate the application tables, then exit")
	migrate  = flag.Bool("migrate", false, "run database migrations, then exit")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig(*conffile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "invalid config:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		zap.S().Error(err)
		_ = zap.L().Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.AppConfig) error {
	application := app.NewApplication(cfg)
	if err := application.Init(ctx); err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer application.Release()

	switch {
	case *initdb:
		if err := application.DropAll(); err != nil {
			return err
		}
		return application.MigrateDB(true)
	case *migrate:
		return application.MigrateDB(true)
	}

	srv := webserver.New(cfg.Web, cfg.System.Debug)
	api.NewHandler(
		application.Registry(),
		application.Dispatcher(),
		application.Sessions(),
		application.OprLogs(),
		cfg.Whatsapp.InitTimeout,
	).Register(srv.Echo(), auth.Middleware(cfg.Auth.JwtSecret))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		zap.L().Info("toughwa: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		application.Shutdown(shutdownCtx)
		return err
	})
	return g.Wait()
}
