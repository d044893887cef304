package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show export pipeline statistics",
	Long:  "Display pending visit counts, batch progress per report kind, and geocode cache size.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		pool, err := connectPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		// Pending visits.
		var pendingVisits int
		err = pool.QueryRow(ctx, `
			SELECT COUNT(*) FROM visits v
			WHERE (v.visit->>'complete')::boolean = true
			AND (v.visit->>'isDemo')::boolean = false
			AND NOT EXISTS (SELECT 1 FROM encounter_uploads u WHERE u.visit_id = v.id)`,
		).Scan(&pendingVisits)
		if err != nil {
			return eris.Wrap(err, "status: count pending visits")
		}

		var uploaded int
		err = pool.QueryRow(ctx, `SELECT COUNT(*) FROM encounter_uploads`).Scan(&uploaded)
		if err != nil {
			return eris.Wrap(err, "status: count uploads")
		}

		fmt.Printf("Encounters: %d pending, %d uploaded\n\n", pendingVisits, uploaded)

		// Per-kind batch progress.
		kinds := []struct {
			name       string
			batchTable string
			itemsTable string
		}{
			{"Incentives", "incentive_batch", "incentive_items"},
			{"Kits", "kit_batch", "kit_items"},
		}
		for _, k := range kinds {
			var batches, committed, items int
			err = pool.QueryRow(ctx, fmt.Sprintf(`
				SELECT COUNT(*),
				       COUNT(*) FILTER (WHERE uploaded),
				       (SELECT COUNT(*) FROM %s)
				FROM %s`, k.itemsTable, k.batchTable),
			).Scan(&batches, &committed, &items)
			if err != nil {
				return eris.Wrapf(err, "status: %s batch counts", k.name)
			}
			fmt.Printf("%-12s %d batches (%d committed), %d items\n", k.name, batches, committed, items)
		}

		// Geocode cache size.
		var cached int
		err = pool.QueryRow(ctx, `SELECT COUNT(*) FROM geocode_responses`).Scan(&cached)
		if err != nil {
			return eris.Wrap(err, "status: count cached responses")
		}
		fmt.Printf("\nGeocode cache: %d entries\n", cached)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
