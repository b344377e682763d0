/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/suparena/plmconnector"
	"github.com/suparena/plmconnector/config"
	"github.com/suparena/plmconnector/connector"
	"github.com/suparena/plmconnector/connector/example"
	"github.com/suparena/plmconnector/connectormodels"
	"github.com/suparena/plmconnector/host"
	"github.com/suparena/plmconnector/logging"
	"github.com/suparena/plmconnector/poll"
	"github.com/suparena/plmconnector/session"
	"github.com/suparena/plmconnector/session/ddb"
)

var (
	versionFlag   = flag.Bool("version", false, "Show version information")
	vFlag         = flag.Bool("v", false, "Show version information (short)")
	configFlag    = flag.String("config", "connectors.yaml", "Path to the host configuration file")
	workspaceFlag = flag.Int64("workspace", 1, "Workspace used for the smoke run")
	userFlag      = flag.Int64("user", 1, "User id used for the smoke run")
	smokeFlag     = flag.Bool("smoke", false, "Run list, open and discard against every V2 connector")
)

func main() {
	flag.Parse()

	if *versionFlag || *vFlag {
		info := plmconnector.GetVersionInfo()
		fmt.Printf("connectorctl version %s\n", info.Version)
		fmt.Printf("Git commit: %s\n", info.GitCommit)
		fmt.Printf("Build date: %s\n", info.BuildDate)
		fmt.Printf("Go version: %s\n", info.GoVersion)
		fmt.Printf("Contract generations: %v\n", info.Generations)
		os.Exit(0)
	}

	if err := run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(*configFlag)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	manager := plmconnector.NewManager()
	for _, cc := range cfg.Connectors {
		switch cc.Generation {
		case connector.GenerationV1:
			err = plmconnector.Register[connector.V1](manager, cc.Name, example.NewV1(logger), cc.Settings)
		default:
			err = plmconnector.Register[connector.V2](manager, cc.Name, example.NewV2(logger), cc.Settings)
		}
		if err != nil {
			return fmt.Errorf("failed to register connector %q: %w", cc.Name, err)
		}
	}

	for _, s := range manager.Registrations() {
		fmt.Printf("%-24s %s\n", s.Name, s.Generation)
	}

	if !*smokeFlag {
		return nil
	}

	store, err := sessionStore(ctx, cfg.Sessions, logger)
	if err != nil {
		return err
	}
	metrics := host.NewMetrics(prometheus.DefaultRegisterer)

	for _, name := range plmconnector.Names[connector.V2](manager) {
		reg, err := plmconnector.Lookup[connector.V2](manager, name)
		if err != nil {
			return err
		}
		if err := smoke(ctx, cfg, reg, store, metrics, logger); err != nil {
			return fmt.Errorf("smoke run of %q failed: %w", name, err)
		}
		fmt.Printf("%-24s smoke ok\n", name)
	}
	return nil
}

func sessionStore(ctx context.Context, cfg config.SessionConfig, logger *zap.Logger) (session.Store, error) {
	if cfg.Backend == config.BackendDynamoDB {
		return ddb.NewFromConfig(ctx, cfg, logger)
	}
	return session.NewMemoryStore(), nil
}

func smoke(ctx context.Context, cfg config.Config, reg plmconnector.Registration[connector.V2], store session.Store, metrics *host.Metrics, logger *zap.Logger) error {
	guard := session.NewGuard(reg.Connector, store, session.WithLogger(logger))
	tracker := poll.NewTracker(
		poll.WithResolver(guard.Resolve),
		poll.WithLogger(logger),
		poll.WithPolicy(poll.Policy{
			InitialInterval: cfg.Retry.InitialInterval,
			MaxInterval:     cfg.Retry.MaxInterval,
			MaxAttempts:     poll.DefaultPolicy.MaxAttempts,
		}),
	)
	client := host.NewClient(guard,
		host.WithName(reg.Name),
		host.WithRetry(cfg.Retry),
		host.WithRateLimit(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst),
		host.WithTracker(tracker),
		host.WithMetrics(metrics),
		host.WithLogger(logger),
	)

	rc := reg.NewRequestContext(*userFlag, *workspaceFlag, "")
	rc.Logger = logger

	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	defs, err := client.List(ctx, rc, connectormodels.Query{Page: 1})
	if err != nil {
		return err
	}
	logger.Info("listed objects", zap.String("connector", reg.Name), zap.Int("count", len(defs)))

	obj := connectormodels.ObjectDefinition{ID: "SMOKE-" + reg.Name, Name: "connectorctl smoke test", Revision: "A"}
	if len(defs) > 0 {
		obj = defs[0]
	}
	if err := client.Open(ctx, rc, connectormodels.OpenRequest{ID: obj.ID, Revision: obj.Revision, Name: obj.Name, IsNew: len(defs) == 0}); err != nil {
		return err
	}
	if err := client.Discard(ctx, rc, obj); err != nil {
		return err
	}

	released, err := guard.ReleaseStale(ctx, rc, cfg.Sessions.StaleTTL)
	if err != nil {
		return err
	}
	if released > 0 {
		logger.Info("released stale sessions", zap.String("connector", reg.Name), zap.Int("count", released))
	}
	return nil
}
