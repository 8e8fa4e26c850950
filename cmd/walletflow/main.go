package main

import (
	"context"
	"os"

	"github.com/gabapcia/walletflow/internal/balances"
	"github.com/gabapcia/walletflow/internal/chainconn"
	"github.com/gabapcia/walletflow/internal/chainregistry"
	"github.com/gabapcia/walletflow/internal/config"
	"github.com/gabapcia/walletflow/internal/handlers/cli"
	"github.com/gabapcia/walletflow/internal/infra/blockchain/ethereum"
	"github.com/gabapcia/walletflow/internal/infra/blockchain/substrate"
	"github.com/gabapcia/walletflow/internal/infra/signer/local"
	"github.com/gabapcia/walletflow/internal/infra/storage/redis"
	"github.com/gabapcia/walletflow/internal/pkg/eventbus"
	"github.com/gabapcia/walletflow/internal/pkg/logger"
	"github.com/gabapcia/walletflow/internal/pkg/telemetry"
	"github.com/gabapcia/walletflow/internal/tx"
	"github.com/gabapcia/walletflow/internal/txengine"
	"github.com/gabapcia/walletflow/internal/txrecovery"
	"github.com/gabapcia/walletflow/internal/txvalidate"
)

func main() {
	ctx := context.Background()

	if err := run(ctx); err != nil {
		logger.Error(ctx, "walletflow exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if err := logger.Init(cfg.LogLevel); err != nil {
		return err
	}
	defer logger.Sync()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.ServiceName)
	if err != nil {
		return err
	}
	defer shutdownTelemetry(ctx)

	chains, err := config.LoadChains(cfg.ChainsFile)
	if err != nil {
		return err
	}

	store, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Username, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return err
	}
	defer store.Close()

	bus := eventbus.New()

	// The registry refuses to drop a chain while a connection is live, and
	// the connection manager resolves descriptors through the registry, so
	// the active check binds late.
	var conns chainconn.Service
	registry, err := chainregistry.New(chains, func(slug string) bool {
		return conns != nil && conns.IsActive(slug)
	})
	if err != nil {
		return err
	}

	conns = chainconn.New(registry, map[tx.Family]chainconn.Dialer{
		tx.FamilySubstrate: substrate.Dialer{},
		tx.FamilyEVM:       ethereum.Dialer{},
	}, bus, chainconn.WithHealthInterval(cfg.HealthInterval))

	balanceSvc := balances.New(conns, bus,
		balances.WithCache(store),
		balances.WithTTL(cfg.BalanceCacheTTL),
	)

	signer := local.New(cfg.SignerAddresses...)

	engine := txengine.New(registry, conns, signer, map[tx.Family]txengine.CallEncoder{
		tx.FamilySubstrate: substrate.CallEncoder{},
		tx.FamilyEVM:       ethereum.CallEncoder{},
	}, store, signer, bus, txengine.WithSubmitTimeout(cfg.SubmitTimeout))
	engine.UseValidator(txvalidate.New(registry, conns, balanceSvc, engine, signer))

	recovery := txrecovery.New(store, conns, txrecovery.WithInterval(cfg.RecoveryInterval))

	return cli.Run(ctx, cli.Services{
		Registry:    registry,
		Connections: conns,
		Engine:      engine,
		Recovery:    recovery,
		History:     store,
	})
}
