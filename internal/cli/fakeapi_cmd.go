// Package cli implements the lostfound command tree.
// This file starts the local development backend.
package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/tbourn/go-lostfound-client/internal/fakeapi"
	"github.com/tbourn/go-lostfound-client/internal/observability"
	"github.com/tbourn/go-lostfound-client/internal/repo"
)

func newFakeAPICmd(st *state) *cobra.Command {
	var (
		addr   string
		dbPath string
		seed   bool
	)
	cmd := &cobra.Command{
		Use:   "fakeapi",
		Short: "Run a local backend for development",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := st.cfg
			if addr != "" {
				cfg.FakeAPI.Addr = addr
			}
			if dbPath != "" {
				cfg.FakeAPI.DBPath = dbPath
			}
			ctx := cmd.Context()

			shutdown, err := observability.SetupOTel(ctx, cfg.OTEL, version)
			if err != nil {
				return fmt.Errorf("otel: %w", err)
			}
			defer func() { _ = shutdown(ctx) }()

			var db *gorm.DB
			if cfg.FakeAPI.DBPath == "" {
				db, err = repo.OpenMemory("fakeapi_" + uuid.NewString())
			} else {
				db, err = repo.OpenSQLite(cfg.FakeAPI.DBPath)
			}
			if err != nil {
				return fmt.Errorf("open backend db: %w", err)
			}
			defer func() {
				if sqlDB, err := db.DB(); err == nil {
					_ = sqlDB.Close()
				}
			}()

			srv, err := fakeapi.New(db, cfg.FakeAPI, cfg.OTEL.ServiceName+"-fakeapi")
			if err != nil {
				return err
			}
			if seed {
				if err := fakeapi.Seed(ctx, srv.Store); err != nil {
					return fmt.Errorf("seed: %w", err)
				}
				log.Info().Str("password", fakeapi.DemoPassword).Msg("demo accounts ana@campus.test and ben@campus.test ready")
			}
			return srv.Run(ctx)
		},
	}
	f := cmd.Flags()
	f.StringVar(&addr, "addr", "", "listen address (overrides FAKEAPI_ADDR)")
	f.StringVar(&dbPath, "db", "", "SQLite file (overrides FAKEAPI_DB_PATH; empty keeps data in memory)")
	f.BoolVar(&seed, "seed", false, "create demo accounts and items")
	return cmd
}
