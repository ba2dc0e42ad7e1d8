package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chaosring/internal/compositor"
	"chaosring/internal/config"
	"chaosring/internal/discord"
	"chaosring/internal/fetch"
	"chaosring/internal/logger"
	"chaosring/internal/metrics"
	"chaosring/internal/ring"
	"chaosring/internal/store"
	"chaosring/internal/tier"
)

// Version number
const VERSION = "0.3.0"

func main() {
	config.LoadDotEnv()

	app := &cli.App{
		Name:    "chaosring",
		Usage:   "Discord bot that puts a ChaosDAO ring on your avatar",
		Version: VERSION,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "optional YAML file with tuning options",
				EnvVars: []string{"CHAOSRING_CONFIG"},
			},
		},
		Action: runBot,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "connect to Discord and serve /ring (default)",
				Action: runBot,
			},
			composeCommand(),
			statsCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runBot(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cli.Exit(err, 1)
	}

	zl := logger.New(cfg.Tuning.Debug)
	defer func() { _ = zl.Sync() }()

	overlays, err := decodeOverlays(cfg.Overlays)
	if err != nil {
		return cli.Exit(err, 1)
	}

	m := metrics.New()

	var rec ring.Recorder
	if cfg.Tuning.DBPath != "" {
		st, err := store.Open(cfg.Tuning.DBPath)
		if err != nil {
			return cli.Exit(fmt.Errorf("usage ledger: %w", err), 1)
		}
		defer st.Close()
		rec = st
	}

	svc, err := ring.NewService(ring.Options{
		Roles:              cfg.Roles,
		Overlays:           overlays,
		Pool:               compositor.NewPool(cfg.Tuning.Workers),
		Limits:             compositor.Limits{MaxDimension: cfg.Tuning.MaxDimension},
		MaxAttachmentBytes: cfg.Tuning.MaxAttachmentBytes,
		Fetcher:            fetch.New(cfg.Tuning.FetchTimeout, cfg.Tuning.MaxAttachmentBytes),
		Recorder:           rec,
		Cooldown:           cfg.Tuning.Cooldown,
		Metrics:            m,
		Logger:             zl,
	})
	if err != nil {
		return cli.Exit(err, 1)
	}

	bot, err := discord.New(cfg.Token, cfg.GuildID, svc, zl)
	if err != nil {
		return cli.Exit(fmt.Errorf("error creating Discord session: %w", err), 1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	if addr := cfg.Tuning.MetricsAddress; addr != "" {
		g.Go(func() error { return m.Serve(gctx, addr, zl) })
	}

	if err := bot.Open(); err != nil {
		return cli.Exit(fmt.Errorf("cannot open the session: %w", err), 1)
	}
	zl.Info("started",
		zap.String("version", VERSION),
		zap.Int("workers", cfg.Tuning.Workers),
		zap.String("guild", cfg.GuildID),
	)

	<-gctx.Done()
	zl.Info("shutting down")
	if err := bot.Close(); err != nil {
		zl.Warn("error closing session", zap.Error(err))
	}
	return g.Wait()
}

func decodeOverlays(raw config.Overlays) (map[tier.Tier]*compositor.Overlay, error) {
	out := make(map[tier.Tier]*compositor.Overlay, len(raw))
	for t, o := range raw {
		ov, err := compositor.NewOverlay(o.Data)
		if err != nil {
			return nil, &config.Error{Key: o.Path, Err: err}
		}
		out[t] = ov
	}
	return out, nil
}
