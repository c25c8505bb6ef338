package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/scribe/internal/types"
	"github.com/andresmejia3/scribe/internal/utils"
)

var (
	historyLimit int
	historyImage string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent predictions recorded in the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runHistory(cmd.Context(), cmd.OutOrStdout())
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of predictions to show")
	historyCmd.Flags().StringVar(&historyImage, "image-id", "", "Only show predictions for this image id")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(ctx context.Context, out io.Writer) error {
	db, err := openStore(ctx, true)
	if err != nil {
		utils.ShowError("Prediction history is unavailable", err, "")
		return err
	}

	var records []types.PredictionRecord
	if historyImage != "" {
		records, err = db.FindByImage(ctx, historyImage)
	} else {
		records, err = db.ListPredictions(ctx, historyLimit)
	}
	if err != nil {
		utils.ShowError("Failed to list predictions", err, "")
		return err
	}

	if len(records) == 0 {
		fmt.Fprintln(out, "No predictions found in database.")
		return nil
	}
	writeHistory(out, records)
	return nil
}

func writeHistory(out io.Writer, records []types.PredictionRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "TIME\tREQUEST\tIMAGE\tRESULT\tDURATION")
	fmt.Fprintln(w, "----\t-------\t-----\t------\t--------")

	for _, r := range records {
		result := r.Prediction
		if r.ErrorKind != "" {
			result = "<" + r.ErrorKind + ">"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
			shortID(r.RequestID, 8),
			shortID(r.ImageID, 12),
			result,
			r.Duration.Round(10*time.Millisecond),
		)
	}
	w.Flush()
}

func shortID(id string, n int) string {
	if len(id) <= n {
		return id
	}
	return id[:n]
}
