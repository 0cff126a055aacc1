// Package app wires the process together: configuration, logging,
// storage recovery, and the trading engine.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/sarna320/scalp/internal/amm"
	"github.com/sarna320/scalp/internal/engine"
	"github.com/sarna320/scalp/internal/infra"
	"github.com/sarna320/scalp/internal/infra/subtensor"
	"github.com/sarna320/scalp/internal/ledger"
	"github.com/sarna320/scalp/internal/storage"
	"github.com/sarna320/scalp/pkg/quant"
)

// paperBlockInterval approximates the chain's block time for the
// simulated clock in paper mode.
const paperBlockInterval = 12 * time.Second

// Bootstrap orchestrates the application startup sequence.
type Bootstrap struct {
	Config   *infra.Config
	Store    *storage.Store
	Snapshot *storage.SnapshotWriter
	Book     *ledger.Book
	Engine   *engine.Engine

	// Gateway may be pre-set before Initialize to run against a custom
	// chain implementation; left nil, paper mode builds a simulated one
	// and live mode refuses to start.
	Gateway subtensor.Gateway

	paper *subtensor.PaperGateway
}

// NewBootstrap creates a new Bootstrap instance.
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// ResolveConfigPath returns the config file location, overridable for
// deployments that mount it elsewhere.
func ResolveConfigPath() string {
	if path := os.Getenv("SCALP_CONFIG"); path != "" {
		return path
	}
	return "config.yaml"
}

// Initialize performs core system initialization.
func (b *Bootstrap) Initialize() error {
	cfg, err := infra.LoadConfig(ResolveConfigPath())
	if err != nil {
		return err
	}
	b.Config = cfg

	slog.SetDefault(infra.NewLogger(cfg))
	slog.Info("BOOTSTRAP_START",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("mode", cfg.Trading.Mode))

	dataDir := cfg.Storage.DataDir
	if dataDir == "" {
		dataDir = "data"
	}
	dataDir = filepath.Join(dataDir, cfg.Trading.Mode)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	store, err := storage.Open(filepath.Join(dataDir, "scalp.db"))
	if err != nil {
		return err
	}
	b.Store = store

	snapshotPath := filepath.Join(dataDir, "positions.json")
	b.Snapshot = storage.NewSnapshotWriter(snapshotPath)

	// The database is authoritative; the snapshot only seeds a fresh one
	// (first run after a migration, or a recovered host).
	positions, err := store.LoadPositions(context.Background())
	if err != nil {
		return err
	}
	if len(positions) == 0 {
		snap, err := storage.LoadSnapshot(snapshotPath)
		if err != nil {
			return err
		}
		if snap != nil {
			positions = snap.Positions
			slog.Info("BOOK_SEEDED_FROM_SNAPSHOT", slog.Int("positions", len(positions)))
		}
	}

	b.Book = ledger.NewBook(cfg.Ledger.DustAlphaRao)
	b.Book.Restore(positions)
	slog.Info("BOOK_RESTORED", slog.Int("positions", len(positions)))

	if b.Gateway == nil {
		switch cfg.Trading.Mode {
		case "paper":
			b.paper = newPaperGateway(cfg)
			b.Gateway = b.paper
			slog.Info("PAPER_GATEWAY_READY", slog.Int("markets", len(cfg.Markets)))
		default:
			return fmt.Errorf("live mode requires an externally provided gateway")
		}
	}

	b.Engine = engine.New(cfg, b.Gateway, b.Book, b.Store, b.Snapshot)
	return nil
}

// newPaperGateway seeds each market's simulated pool at its buy
// activation price with enough depth to absorb the configured stake.
func newPaperGateway(cfg *infra.Config) *subtensor.PaperGateway {
	pools := make(map[uint16]amm.Pool, len(cfg.Markets))
	var totalStake int64
	for _, m := range cfg.Markets {
		taoReserve := 100 * m.StakeAmountRao
		pools[m.NetUID] = amm.Pool{
			AlphaInRao: quant.MulDivFloor(taoReserve, quant.RaoPerTao, int64(m.ActivationPriceBuyRao)),
			TaoInRao:   taoReserve,
		}
		totalStake += m.StakeAmountRao
	}
	// Fund the wallet for every configured market plus fee headroom.
	return subtensor.NewPaperGateway(pools, 2*totalStake+quant.RaoPerTao, cfg.Fees.AlphaFeePPM)
}

// RunClock feeds block events to the engine: the node's new-heads
// subscription in live mode, a fixed-interval simulated clock in paper
// mode. Blocks until ctx is cancelled.
func (b *Bootstrap) RunClock(ctx context.Context) {
	if b.paper != nil {
		ticker := time.NewTicker(paperBlockInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				number := b.paper.AdvanceBlock()
				select {
				case b.Engine.Inbox() <- subtensor.BlockEvent{Number: number}:
				default:
				}
			}
		}
	}

	worker := subtensor.NewBlockWorker(b.Config.Chain.WSURL, b.Engine.Inbox())
	worker.Start(ctx)
	defer worker.Stop()
	<-ctx.Done()
}

// Close releases held resources.
func (b *Bootstrap) Close() {
	if b.Store != nil {
		if err := b.Store.Close(); err != nil {
			slog.Warn("STORE_CLOSE_FAILED", slog.Any("err", err))
		}
	}
}
