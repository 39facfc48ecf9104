// Точка входа CRM Sync — двусторонняя синхронизация контактов между
// локальной CRM и удалённой CRM.
//
// Команды:
//
//	crm-sync serve      миграции БД, HTTP-сервер и фоновые задачи (по умолчанию)
//	crm-sync migrate    применение или откат миграций
//	crm-sync ledger-gc  однократная очистка просроченных записей журнала синхронизации
//	crm-sync version    версия сборки
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bigkaa/goartstore/crm-sync/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		slog.Error("Команда завершилась с ошибкой", slog.String("error", err.Error()))
		stop()
		os.Exit(1)
	}
}

// newRootCommand создаёт корневую команду. Без подкоманды выполняется serve.
func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "crm-sync",
		Short:         "Двусторонняя синхронизация контактов между CRM",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newMigrateCommand())
	cmd.AddCommand(newLedgerGCCommand())
	cmd.AddCommand(newVersionCommand())
	return cmd
}

// loadConfig загружает конфигурацию и настраивает логирование.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, config.SetupLogger(cfg), nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Версия сборки",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), config.Version)
		},
	}
}
