package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/fieldline/workstate/internal/clock"
	"github.com/fieldline/workstate/internal/config"
	"github.com/fieldline/workstate/internal/engine"
	"github.com/fieldline/workstate/internal/hash"
	"github.com/fieldline/workstate/internal/localstore"
	"github.com/fieldline/workstate/internal/remote"
	"github.com/fieldline/workstate/internal/schema"
)

// registry guards against two engines for the same project in one process.
var registry = engine.NewRegistry()

// newEngine creates an engine with real implementations of all dependencies,
// bound to the --project flag (or local-only when unset). The returned
// cleanup closes the local store and must run after the engine is closed.
func newEngine() (*engine.Engine, func(), error) {
	configDir, err := config.DefaultConfigDir()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve config dir: %w", err)
	}
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Kind != schema.AnalysisKind {
		return nil, nil, fmt.Errorf("unsupported workspace kind %q", cfg.Kind)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	clk := &clock.RealClock{}
	hasher := hash.NewSHA256Hasher()
	sch := schema.Analysis(clk, uuid.NewString)

	// A failed open degrades to "not persisted this session".
	var local localstore.Store
	sqlStore, err := localstore.Open(cfg.LocalDB)
	if err != nil {
		logger.Warn("failed to open local store", "path", cfg.LocalDB, "error", err)
	} else {
		local = sqlStore
	}
	cleanup := func() {
		if local != nil {
			_ = local.Close()
		}
	}

	if projectID > 0 {
		rem := remote.NewClient(cfg.APIBaseURL, cfg.APIToken)
		eng, err := registry.Open(projectID, sch, rem, local, clk, hasher, logger, cfg.DebounceWindow)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		return eng, cleanup, nil
	}

	return engine.NewLocal(sch, local, clk, hasher, logger, cfg.DebounceWindow), cleanup, nil
}

// outputJSON outputs a value as indented JSON to stdout.
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printState renders a workspace state for humans.
func printState(state schema.State) {
	PrintSection("Workspace State")
	if v, ok := state.Version(); ok {
		PrintLabelValue("Version", fmt.Sprintf("%d", v))
	}
	if active, ok := state["activeWorkspaceId"].(string); ok {
		PrintLabelValue("Active", active)
	}

	workspaces := schema.AnalysisWorkspaces(state)
	PrintLabelValue("Workspaces", fmt.Sprintf("%d", len(workspaces)))
	for _, ws := range workspaces {
		fmt.Println()
		PrintLabelValue("Name", ws.Name)
		PrintDim(fmt.Sprintf("id: %s", ws.ID))
		PrintDim(fmt.Sprintf("parameters: %d", len(ws.Parameters)))
		PrintDim(fmt.Sprintf("modified: %s", ws.LastModified))
	}
}
