package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cuemby/ripple/pkg/config"
	"github.com/cuemby/ripple/pkg/manager"
	"github.com/cuemby/ripple/pkg/storage"
	"github.com/cuemby/ripple/pkg/syncengine"
	"github.com/cuemby/ripple/pkg/transport/grpctransport"
	"github.com/cuemby/ripple/pkg/types"
)

// appConfig is the fully resolved runtime configuration shared by every
// subcommand that needs to stand up a manager against a local store and a
// remote server: the config file's values, with any explicitly-set flags
// layered on top.
type appConfig struct {
	dataDir                string
	quotaSoft              int64
	quotaTarget            int64
	quotaCeiling           int64
	server                 string
	syncConfig             syncengine.Config
	interval               time.Duration
	forcedFullSyncInterval time.Duration
	tables                 []types.TableRegistration
}

func appConfigFromCmd(cmd *cobra.Command) (appConfig, error) {
	flags := cmd.Flags()

	configPath, err := flags.GetString("config")
	if err != nil {
		return appConfig{}, err
	}
	fileCfg, err := config.Load(configPath)
	if err != nil {
		return appConfig{}, err
	}

	dataDir := fileCfg.StorePath
	if flags.Changed("data-dir") {
		dataDir, _ = flags.GetString("data-dir")
	}

	server := fileCfg.Transport.Address
	if flags.Changed("server") {
		server, _ = flags.GetString("server")
	}

	// quotaCeiling is the store's reported capacity; quotaSoft/quotaTarget
	// (normally equal) are the lower eviction trigger/target point that sits
	// strictly below it, so autoquota engages well before usage could ever
	// reach the ceiling itself.
	quotaCeiling := fileCfg.Quota.CeilingBytes
	quotaTarget := fileCfg.Quota.TargetBytes
	quotaSoft := fileCfg.Quota.SoftLimitBytes
	if flags.Changed("quota-bytes") {
		quotaCeiling, _ = flags.GetInt64("quota-bytes")
		quotaTarget = quotaCeiling * 9 / 10
		quotaSoft = quotaTarget
	}
	if quotaCeiling <= 0 {
		quotaCeiling = quotaTarget
	}
	if quotaSoft <= 0 {
		quotaSoft = quotaTarget
	}

	syncCfg := syncengine.DefaultConfig()
	if fileCfg.Sync.PageSize > 0 {
		syncCfg.PageSize = fileCfg.Sync.PageSize
	}
	if fileCfg.Sync.ChunkSize > 0 {
		syncCfg.ChunkSize = fileCfg.Sync.ChunkSize
	}
	if fileCfg.Sync.IncrementalSafetyLimit > 0 {
		syncCfg.IncrementalSafetyLimit = fileCfg.Sync.IncrementalSafetyLimit
	}

	tables := make([]types.TableRegistration, 0, len(fileCfg.Tables))
	for _, t := range fileCfg.Tables {
		tables = append(tables, tableConfigToRegistration(t))
	}
	extra, err := flags.GetStringSlice("table")
	if err != nil {
		return appConfig{}, err
	}
	for _, spec := range extra {
		tables = append(tables, parseTableFlag(spec))
	}

	return appConfig{
		dataDir:                dataDir,
		quotaSoft:              quotaSoft,
		quotaTarget:            quotaTarget,
		quotaCeiling:           quotaCeiling,
		server:                 server,
		syncConfig:             syncCfg,
		interval:               fileCfg.Sync.PeriodicInterval,
		forcedFullSyncInterval: fileCfg.Sync.ForcedFullSyncInterval,
		tables:                 tables,
	}, nil
}

func tableConfigToRegistration(t config.TableConfig) types.TableRegistration {
	reg := types.TableRegistration{
		Name:             t.Name,
		Priority:         types.Priority(t.Priority),
		TTL:              t.TTL,
		Strategy:         types.ConflictStrategy(t.Strategy),
		ClientAuthFields: t.ClientAuthFields,
		SecondaryIndexes: t.SecondaryIndexes,
	}
	if reg.Priority == "" {
		reg.Priority = types.PriorityMedium
	}
	return reg
}

// parseTableFlag turns a "name[:priority]" flag value into a registration.
func parseTableFlag(spec string) types.TableRegistration {
	name, priority, found := strings.Cut(spec, ":")
	reg := types.TableRegistration{Name: name, Priority: types.PriorityMedium}
	if found {
		reg.Priority = types.Priority(priority)
	}
	return reg
}

// buildManager dials the remote server, opens the local store, and
// registers every configured table.
func buildManager(ctx context.Context, cfg appConfig) (*manager.Manager, func() error, error) {
	store, err := storage.NewBoltStore(cfg.dataDir, cfg.quotaCeiling)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}

	conn, err := grpc.NewClient(cfg.server, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("failed to dial server %s: %w", cfg.server, err)
	}
	client := grpctransport.NewClient(conn)

	mgr := manager.NewManager(manager.Config{
		Store:                  store,
		Transport:              client,
		SyncConfig:             cfg.syncConfig,
		PeriodicInterval:       cfg.interval,
		QuotaSoftLimit:         cfg.quotaSoft,
		QuotaTargetBytes:       cfg.quotaTarget,
		ForcedFullSyncInterval: cfg.forcedFullSyncInterval,
	})

	for _, reg := range cfg.tables {
		if err := mgr.RegisterTable(ctx, reg); err != nil {
			conn.Close()
			store.Close()
			return nil, nil, fmt.Errorf("failed to register table %q: %w", reg.Name, err)
		}
	}

	closer := func() error {
		closeErr := mgr.Close()
		if connErr := conn.Close(); closeErr == nil {
			closeErr = connErr
		}
		return closeErr
	}
	return mgr, closer, nil
}
