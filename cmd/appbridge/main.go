// Command appbridge runs the chat-driven integration hub.
//
// Usage:
//
//	appbridge serve --config config.yaml
//	appbridge index --config config.yaml --app jira
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/appbridge-ai/appbridge/pkg/apps"
	"github.com/appbridge-ai/appbridge/pkg/config"
	"github.com/appbridge-ai/appbridge/pkg/databases"
	"github.com/appbridge-ai/appbridge/pkg/embedders"
	"github.com/appbridge-ai/appbridge/pkg/httpclient"
	"github.com/appbridge-ai/appbridge/pkg/logger"
	"github.com/appbridge-ai/appbridge/pkg/oracle"
	"github.com/appbridge-ai/appbridge/pkg/pipeline"
	"github.com/appbridge-ai/appbridge/pkg/server"
	"github.com/appbridge-ai/appbridge/pkg/storage"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Serve   ServeCmd   `cmd:"" help:"Start the HTTP server."`
	Index   IndexCmd   `cmd:"" help:"Rebuild the documentation index for one application."`

	Config    string `short:"c" help:"Path to config file." type:"path" default:"config.yaml"`
	LogLevel  string `help:"Log level (debug, info, warn, error)."`
	LogFormat string `help:"Log format (text or json)." default:"text"`
}

type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("appbridge version %s\n", version)
	return nil
}

// runtime holds the wired service components.
type runtime struct {
	cfg      *config.Config
	store    *storage.Store
	embedder embedders.Provider
	vectors  databases.Provider
	oracle   oracle.Provider
	registry *apps.Registry
	pipeline *pipeline.Pipeline
}

func (r *runtime) Close() {
	if r.oracle != nil {
		r.oracle.Close()
	}
	if r.vectors != nil {
		r.vectors.Close()
	}
	if r.embedder != nil {
		r.embedder.Close()
	}
	if r.store != nil {
		r.store.Close()
	}
}

func buildRuntime(ctx context.Context, cli *CLI) (*runtime, error) {
	// A missing .env file is fine; explicit env vars still apply.
	config.LoadDotEnv()

	cfg, err := config.Load(cli.Config)
	if err != nil {
		return nil, err
	}

	logLevel := cfg.LogLevel
	if cli.LogLevel != "" {
		logLevel = cli.LogLevel
	}
	level, _ := logger.ParseLevel(logLevel)
	logger.Init(level, os.Stderr, cli.LogFormat)

	rt := &runtime{cfg: cfg}

	rt.store, err = storage.NewFromConfig(&cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	rt.embedder, err = embedders.NewEmbedderRegistry().CreateEmbedderFromConfig("default", &cfg.Embedder)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	rt.vectors, err = databases.NewDatabaseRegistry().CreateDatabaseFromConfig("default", &cfg.VectorStore)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to create vector store: %w", err)
	}

	if err := rt.vectors.CreateCollection(ctx, cfg.VectorStore.Collection, uint64(rt.embedder.GetDimension())); err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to ensure collection %s: %w", cfg.VectorStore.Collection, err)
	}

	rt.oracle, err = oracle.NewOpenAIProviderFromConfig(&cfg.Oracle)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to create oracle: %w", err)
	}

	rt.registry = apps.NewRegistry(apps.Deps{
		Store:           rt.store,
		Embedder:        rt.embedder,
		Vectors:         rt.vectors,
		Collection:      cfg.VectorStore.Collection,
		HTTP:            httpclient.New(),
		CallbackBaseURL: cfg.CallbackBaseURL,
	})
	rt.pipeline = pipeline.New(rt.oracle, rt.registry, rt.store, cfg.Pipeline)

	return rt, nil
}

type ServeCmd struct{}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := buildRuntime(ctx, cli)
	if err != nil {
		return err
	}
	defer rt.Close()

	srv := server.New(rt.cfg.Server, rt.store, rt.registry, rt.pipeline)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			slog.Error("shutdown failed", "error", err)
		}
		cancel()
	}()

	slog.Info("appbridge starting",
		"oracle", rt.oracle.ModelName(),
		"embedder", rt.embedder.GetModelName(),
		"vector_store", rt.cfg.VectorStore.Type,
		"storage", rt.cfg.Storage.Driver)

	return srv.Start()
}

type IndexCmd struct {
	App  string `required:"" help:"System name of the application to index (e.g. jira)."`
	User string `help:"User id whose connection to index with (required for tenant-generated specifications)."`
}

func (c *IndexCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	rt, err := buildRuntime(ctx, cli)
	if err != nil {
		return err
	}
	defer rt.Close()

	app, err := rt.store.GetAppBySystemName(ctx, c.App)
	if err != nil {
		return fmt.Errorf("failed to load application %q: %w", c.App, err)
	}

	var conn *storage.Connection
	if c.User != "" {
		conn, err = rt.store.GetConnectionByUserAndApp(ctx, c.User, app.ID)
		if err != nil {
			return fmt.Errorf("failed to load connection for user %q: %w", c.User, err)
		}
	}

	adapter := rt.registry.Get(app)
	if err := adapter.CreateDocumentation(ctx, conn); err != nil {
		return fmt.Errorf("failed to index documentation: %w", err)
	}

	entries, err := rt.store.ListDocumentationByApp(ctx, app.ID)
	if err != nil {
		return err
	}
	fmt.Printf("Indexed %d documentation entries for %s\n", len(entries), app.Name)
	return nil
}

func main() {
	cli := &CLI{}
	parsed := kong.Parse(cli,
		kong.Name("appbridge"),
		kong.Description("Chat-driven SaaS integration hub."),
		kong.UsageOnError(),
	)
	if err := parsed.Run(cli); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
