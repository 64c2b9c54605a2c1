// Copyright 2025 Certen Protocol
//
// Consensus node entry point
// Wires configuration, the persistent store, the consensus coordinator,
// the health monitor and the transaction purge loop. The networking layer,
// baker loop and RPC surface attach through the coordinator's capability
// record and query interface.

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/certen/permissioned-node/pkg/blockstate"
	"github.com/certen/permissioned-node/pkg/config"
	"github.com/certen/permissioned-node/pkg/consensus"
	"github.com/certen/permissioned-node/pkg/crypto"
	"github.com/certen/permissioned-node/pkg/crypto/bls"
	"github.com/certen/permissioned-node/pkg/scheduler"
	"github.com/certen/permissioned-node/pkg/store"
	"github.com/certen/permissioned-node/pkg/types"
)

// genesisSpec is the development bootstrap file (DATA_DIR/genesis.json).
type genesisSpec struct {
	Seed            string `json:"seed"`
	GenesisTimeMS   uint64 `json:"genesisTimeMs"`
	SlotDurationMS  uint64 `json:"slotDurationMs"`
	EpochLength     uint64 `json:"epochLength"`
	MaxBlockEnergy  uint64 `json:"maxBlockEnergy"`
	InitialSupply   uint64 `json:"initialSupply"`
	BakerStake      uint64 `json:"bakerStake"`
	ProtocolVersion uint32 `json:"protocolVersion"`
}

// nullEngine rejects every contract invocation; nodes running with a real
// WASM engine inject it here.
type nullEngine struct{}

func (nullEngine) Init(*blockstate.Module, string, []byte, types.Amount, types.AccountAddress) (*scheduler.InitResult, error) {
	return nil, scheduler.ErrEngineReject
}

func (nullEngine) Receive(*blockstate.Module, *blockstate.Instance, string, []byte, types.Amount, types.AccountAddress) (*scheduler.ReceiveResult, error) {
	return nil, scheduler.ErrEngineReject
}

func main() {
	metricsAddr := flag.String("metrics-addr", ":9090", "prometheus listen address")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("%v", err)
	}

	st, err := store.Open(cfg.DataDir, 0)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}

	opts := consensus.Options{
		MaxBlockSize:          cfg.MaxBlockSize,
		EarlyBlockThreshold:   cfg.EarlyBlockThreshold,
		InsertionsBeforePurge: cfg.InsertionsBeforeTransactionPurge,
		KeepAlive:             cfg.TransactionsKeepAliveTime,
		AccountsCacheSize:     cfg.AccountsCacheSize,
		ModulesCacheSize:      cfg.ModulesCacheSize,
	}
	hooks := consensus.Callbacks{
		OnBlockArrived: func(hash types.BlockHash, height types.BlockHeight) {
			log.Printf("[node] block %s alive at height %d", hash, height)
		},
		OnFinalized: func(rec *types.FinalizationRecord, lfb types.BlockHash) {
			log.Printf("[node] finalized %s (index %d)", lfb, rec.Index)
		},
		OnRegenesis: func(genesis types.BlockHash) {
			log.Printf("[node] regenesis staged: next era genesis %s", genesis)
		},
	}
	reg := prometheus.NewRegistry()

	core, err := openOrBootstrap(cfg, st, hooks, opts, reg)
	if err != nil {
		log.Fatalf("start consensus: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	monitor := consensus.NewHealthMonitor(core, 2*time.Minute, 15*time.Second)
	monitor.Start(ctx)

	go purgeLoop(ctx, core, cfg.TransactionsPurgingDelay)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{Addr: *metricsAddr, Handler: mux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[node] metrics server: %v", err)
		}
	}()

	log.Printf("[node] running; data dir %s", cfg.DataDir)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	// Shutdown releases in reverse-acquisition order: ingress first, then
	// the monitor, then the store.
	log.Printf("[node] shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	metricsSrv.Shutdown(shutdownCtx)
	shutdownCancel()
	cancel()
	monitor.Stop()
	if err := st.Close(); err != nil {
		log.Printf("[node] store close: %v", err)
	}
}

// openOrBootstrap recovers a persisted era or builds a development genesis.
func openOrBootstrap(cfg *config.Config, st *store.Store, hooks consensus.Callbacks,
	opts consensus.Options, reg prometheus.Registerer) (*consensus.Consensus, error) {

	if _, ok, err := st.LastFinalizationIndex(); err == nil && ok {
		return consensus.Recover(0, st, nullEngine{}, consensus.BLSOracle{}, hooks, opts, reg)
	}

	spec, err := loadGenesisSpec(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	gd, state, err := buildGenesis(spec)
	if err != nil {
		return nil, err
	}
	return consensus.New(0, gd, state, st, nullEngine{}, consensus.BLSOracle{}, hooks, opts, reg)
}

func loadGenesisSpec(dataDir string) (*genesisSpec, error) {
	data, err := os.ReadFile(filepath.Join(dataDir, "genesis.json"))
	if err != nil {
		return nil, fmt.Errorf("no persisted era and no genesis.json in %s: %w", dataDir, err)
	}
	var spec genesisSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse genesis.json: %w", err)
	}
	if spec.Seed == "" {
		return nil, fmt.Errorf("genesis.json: seed must be set")
	}
	return &spec, nil
}

// buildGenesis constructs the era-0 state: one funded baker account derived
// from the seed.
func buildGenesis(spec *genesisSpec) (*types.GenesisData, *blockstate.State, error) {
	core := types.GenesisCore{
		GenesisTime:    types.Timestamp(spec.GenesisTimeMS),
		SlotDuration:   types.Duration(spec.SlotDurationMS),
		EpochLength:    spec.EpochLength,
		MaxBlockEnergy: types.Energy(spec.MaxBlockEnergy),
	}
	if core.SlotDuration == 0 {
		core.SlotDuration = 1000
	}
	if core.EpochLength == 0 {
		core.EpochLength = 900
	}
	if core.MaxBlockEnergy == 0 {
		core.MaxBlockEnergy = 3_000_000
	}

	seedHash := types.HashBytes([]byte(spec.Seed))
	signKey := crypto.SignKeyFromSeed([]byte(spec.Seed + ":sign"))
	electionKey := crypto.SignKeyFromSeed([]byte(spec.Seed + ":elect"))
	_, aggKey, err := bls.KeyPairFromSeed([]byte(spec.Seed + ":bls-aggregation-key"))
	if err != nil {
		return nil, nil, err
	}

	state := blockstate.NewState(types.ProtocolVersion(max32(spec.ProtocolVersion, 1)), core, seedHash, blockstate.UpdateKeyCollection{})
	account, err := state.CreateAccount(blockstate.Credential{RegID: types.CredentialRegID(append(seedHash[:], seedHash[:16]...))}, signKey.Public(), 0)
	if err != nil {
		return nil, nil, err
	}
	supply := types.Amount(spec.InitialSupply)
	if supply == 0 {
		supply = 1_000_000_000
	}
	if err := state.Mint(account.Address, supply); err != nil {
		return nil, nil, err
	}
	stake := types.Amount(spec.BakerStake)
	if stake == 0 || stake > supply {
		stake = supply / 2
	}
	if err := state.ModifyAccount(account.Address, func(a *blockstate.Account) error {
		a.Baker = &blockstate.BakerInfo{
			ID:             0,
			SignKey:        signKey.Public(),
			ElectionKey:    electionKey.Public(),
			AggregationKey: aggKey.Bytes(),
			Stake:          stake,
		}
		return nil
	}); err != nil {
		return nil, nil, err
	}
	stateHash := state.Freeze()

	gd := &types.GenesisData{
		Core:            core,
		ProtocolVersion: types.ProtocolVersion(max32(spec.ProtocolVersion, 1)),
		StateHash:       stateHash,
	}
	return gd, state, nil
}

func max32(v, floor uint32) uint32 {
	if v < floor {
		return floor
	}
	return v
}

func purgeLoop(ctx context.Context, core *consensus.Consensus, period time.Duration) {
	if period <= 0 {
		period = time.Minute
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			core.PurgeTransactions()
		}
	}
}
