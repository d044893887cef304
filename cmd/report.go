package main

import (
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cascadia-health/study-export/internal/batch"
	"github.com/cascadia-health/study-export/internal/report"
)

var reportLimit int

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Batch report jobs",
}

var reportIncentivesCmd = &cobra.Command{
	Use:   "incentives",
	Short: "Export the next incentive payment batch",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runReport(cmd, report.IncentivesNamespace, report.IncentivesPredicate, report.NewIncentiveStrategy)
	},
}

var reportKitsCmd = &cobra.Command{
	Use:   "kits",
	Short: "Export the next kit order batch",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runReport(cmd, report.KitsNamespace, report.KitsPredicate, report.NewKitStrategy)
	},
}

// runReport executes one batch export cycle for a report kind.
func runReport(cmd *cobra.Command, ns batch.Namespace, predicate string, newStrategy func(report.AddressGeocoder, report.Sink) *report.ParticipantStrategy) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := zap.L().With(zap.String("run_id", uuid.NewString()))
	zap.ReplaceGlobals(log)

	pool, err := connectPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	sink, err := newReportSink(ctx)
	if err != nil {
		return err
	}
	if closer, ok := sink.(*report.BlobSink); ok {
		defer closer.Close() //nolint:errcheck
	}

	limit := reportLimit
	if limit <= 0 {
		limit = cfg.Export.MaxRecords
	}

	data := batch.NewDataAccess(pool, ns, predicate)
	strategy := newStrategy(newGeocodeService(pool), sink)
	processor := batch.NewProcessor[report.Participant](data, strategy, limit)
	_, err = processor.Run(ctx)
	return err
}

func init() {
	reportCmd.PersistentFlags().IntVar(&reportLimit, "limit", 0, "max new records per batch (0 uses export.max_records)")
	reportCmd.AddCommand(reportIncentivesCmd)
	reportCmd.AddCommand(reportKitsCmd)
	rootCmd.AddCommand(reportCmd)
}
