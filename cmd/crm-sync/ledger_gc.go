package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bigkaa/goartstore/crm-sync/internal/database"
	"github.com/bigkaa/goartstore/crm-sync/internal/repository"
	"github.com/bigkaa/goartstore/crm-sync/internal/service"
)

func newLedgerGCCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ledger-gc",
		Short: "Удалить просроченные записи журнала синхронизации",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			pool, err := database.Connect(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			gc := service.NewLedgerGCService(repository.NewLedgerRepository(pool), cfg.LedgerGCInterval, logger)
			deleted, err := gc.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Удалено записей: %d\n", deleted)
			return nil
		},
	}
}
