package main

import (
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var encountersLimit int

var encountersCmd = &cobra.Command{
	Use:   "encounters",
	Short: "Encounter export jobs",
}

var encountersSendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send pending visits as de-identified encounters",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		log := zap.L().With(zap.String("run_id", uuid.NewString()))
		zap.ReplaceGlobals(log)

		pool, err := connectPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		limit := encountersLimit
		if limit <= 0 {
			limit = cfg.Export.MaxRecords
		}

		_, err = newEncounterService(pool).Run(ctx, limit)
		return err
	},
}

func init() {
	encountersSendCmd.Flags().IntVar(&encountersLimit, "limit", 0, "max visits to send this run (0 uses export.max_records)")
	encountersCmd.AddCommand(encountersSendCmd)
	rootCmd.AddCommand(encountersCmd)
}
