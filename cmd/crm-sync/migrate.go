package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/bigkaa/goartstore/crm-sync/internal/database"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Миграции БД",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Применить все миграции",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			return database.Migrate(cfg, logger)
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Откатить миграции",
		RunE: func(_ *cobra.Command, _ []string) error {
			if steps < 1 {
				return fmt.Errorf("--steps: ожидается положительное число, получено %d", steps)
			}
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			logger.Warn("Откат миграций", slog.Int("steps", steps))
			return database.MigrateDown(cfg, steps, logger)
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "количество откатываемых миграций")

	cmd.AddCommand(up, down)
	return cmd
}
