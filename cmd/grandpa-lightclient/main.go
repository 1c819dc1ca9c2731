// Command grandpa-lightclient is a thin operational entrypoint around the
// pkg/client state machine: it opens the configured storage backend,
// initializes or loads a client's authority-set ledger, optionally feeds
// the client a JSON-encoded ClientMessage, and reports the resulting
// client status and consensus states.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/certen/grandpa-parachain-client/pkg/client"
	"github.com/certen/grandpa-parachain-client/pkg/config"
	"github.com/certen/grandpa-parachain-client/pkg/host"
	"github.com/certen/grandpa-parachain-client/pkg/hostctx"
	"github.com/certen/grandpa-parachain-client/pkg/kvdb"
	"github.com/certen/grandpa-parachain-client/pkg/ledger"
	"github.com/certen/grandpa-parachain-client/pkg/logging"
	"github.com/certen/grandpa-parachain-client/pkg/metrics"
	"github.com/certen/grandpa-parachain-client/pkg/relaychain"
)

func main() {
	var (
		configFile  = flag.String("config", "", "path to a YAML config file (overrides GRANDPA_LC_CONFIG_FILE)")
		clientID    = flag.String("client-id", "default", "client instance identifier, namespaces persisted state")
		messageFile = flag.String("message", "", "path to a JSON-encoded ClientMessage to feed the client; status is printed either way")
	)
	flag.Parse()

	if *configFile != "" {
		os.Setenv("GRANDPA_LC_CONFIG_FILE", *configFile)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "grandpa-lightclient: %v\n", err)
		os.Exit(1)
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	logger, err := logging.New(&logging.Config{Level: level, Format: cfg.Logging.Format, Output: cfg.Logging.Output})
	if err != nil {
		fmt.Fprintf(os.Stderr, "grandpa-lightclient: %v\n", err)
		os.Exit(1)
	}
	logger = logger.WithRunID(logging.NewRunID())
	logging.SetGlobal(logger)

	reg := prometheus.NewRegistry()
	collector := metrics.New(reg)
	if cfg.Metrics.ListenAddr != "" {
		serveMetrics(logger, cfg.Metrics.ListenAddr, reg)
	}

	store, err := openStore(cfg)
	if err != nil {
		logger.WithError(err).Error("failed to open storage backend")
		os.Exit(1)
	}

	genesisHash, err := decodeGenesisHash(cfg.Chain.GenesisRelayHash)
	if err != nil {
		logger.WithError(err).Error("invalid genesis_relay_hash in config")
		os.Exit(1)
	}

	ledgerNS := store.Namespace("ledger/" + *clientID)
	ledgerKey := []byte("entries")
	led, err := ledger.Load(ledgerNS, ledgerKey)
	if err != nil {
		led = ledger.New(ledger.Change{Height: 0, SetID: 0}, ledgerNS, ledgerKey)
		logger.WithComponent("ledger").Info("initialized fresh authority-set ledger", "genesis_relay_hash", hex.EncodeToString(genesisHash[:]))
	} else {
		logger.WithComponent("ledger").Info("loaded persisted authority-set ledger", "entries", led.Len(), "last_set_id", led.LastSetID())
	}

	allowlist, err := client.ParseGenesisHashAllowlist(cfg.Chain.GenesisHashAllowlist)
	if err != nil {
		logger.WithError(err).Error("invalid chain.genesis_hash_allowlist in config")
		os.Exit(1)
	}

	fn := host.New(store.Namespace("known-hashes/" + *clientID))
	cl := client.New(fn, client.Config{GenesisHashAllowlist: allowlist}).WithMetrics(collector)

	cs := &client.ClientState{
		RelayChain:      cfg.Chain.RelayChain,
		ParaID:          cfg.Chain.ParaID,
		LatestRelayHash: genesisHash,
		Ledger:          led,
	}

	if *messageFile != "" {
		cs, err = applyMessage(logger, cl, cs, *clientID, *messageFile)
		if err != nil {
			logger.WithError(err).Error("client message processing failed")
			os.Exit(1)
		}
	}

	printStatus(logger, *clientID, cs)
}

// applyMessage decodes a JSON ClientMessage from path and runs it through
// the verify/update-state (or update-state-on-misbehaviour) pipeline
// VerifyClientMessage and CheckForMisbehaviour together gate, printing
// any newly derived parachain consensus states.
func applyMessage(logger *logging.Logger, cl *client.Client, cs *client.ClientState, clientID, path string) (*client.ClientState, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return cs, fmt.Errorf("reading message file: %w", err)
	}
	var msg client.ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return cs, fmt.Errorf("decoding client message: %w", err)
	}

	if err := cl.VerifyClientMessage(cs, &msg); err != nil {
		return cs, fmt.Errorf("verify_client_message: %w", err)
	}

	ctx := hostctx.NewMemoryContext(time.Now().UnixNano(), hostctx.Height{RevisionNumber: uint64(cs.ParaID), RevisionHeight: uint64(cs.LatestParaHeight)})

	misbehaving, err := cl.CheckForMisbehaviour(ctx, clientID, cs, &msg)
	if err != nil {
		return cs, fmt.Errorf("check_for_misbehaviour: %w", err)
	}
	if misbehaving {
		logger.WithComponent("client").Warn("misbehaviour proven, freezing client", "client_id", clientID)
		return cl.UpdateStateOnMisbehaviour(cs), nil
	}

	next, newStates, err := cl.UpdateState(ctx, clientID, cs, msg.Header)
	if err != nil {
		return cs, fmt.Errorf("update_state: %w", err)
	}
	for height, state := range newStates {
		logger.WithComponent("client").Info("derived parachain consensus state",
			"para_height", height,
			"commitment_root", hex.EncodeToString(state.CommitmentRoot[:]),
			"timestamp_ns", state.TimestampNs,
		)
	}
	return next, nil
}

func serveMetrics(logger *logging.Logger, addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("metrics server stopped")
		}
	}()
	logger.WithComponent("metrics").Info("serving Prometheus metrics", "addr", addr)
}

func openStore(cfg *config.Config) (*kvdb.Store, error) {
	var backend dbm.BackendType
	switch cfg.Storage.Backend {
	case "memdb":
		backend = dbm.MemDBBackend
	case "goleveldb":
		backend = dbm.GoLevelDBBackend
	case "badgerdb":
		backend = dbm.BadgerDBBackend
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Storage.Backend)
	}

	type result struct {
		store *kvdb.Store
		err   error
	}
	done := make(chan result, 1)
	go func() {
		store, err := kvdb.Open(cfg.Storage.Name, backend, cfg.Storage.Directory)
		done <- result{store, err}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), config.StartupTimeout)
	defer cancel()
	select {
	case r := <-done:
		return r.store, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("opening storage backend exceeded %s", config.StartupTimeout)
	}
}

func decodeGenesisHash(s string) (relaychain.Hash, error) {
	var h relaychain.Hash
	if s == "" {
		return h, nil
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	if len(raw) != 32 {
		return h, fmt.Errorf("genesis_relay_hash must decode to 32 bytes, got %d", len(raw))
	}
	copy(h[:], raw)
	return h, nil
}

func printStatus(logger *logging.Logger, clientID string, cs *client.ClientState) {
	logger.WithComponent("status").Info("client status",
		"client_id", clientID,
		"relay_chain", cs.RelayChain,
		"para_id", cs.ParaID,
		"latest_relay_height", cs.LatestRelayHeight,
		"latest_para_height", cs.LatestParaHeight,
		"frozen", cs.IsFrozen(),
		"ledger_entries", cs.Ledger.Len(),
	)
}
