package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/scribe/internal/utils"
)

var (
	resetEnv     bool
	resetHistory bool
	resetYes     bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset system state (Python environment, prediction history)",
	Long:  "Clears local state. By default, it resets everything. Use flags to clear specific components.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		// If no flags are set, default to clearing EVERYTHING
		if !resetEnv && !resetHistory {
			resetEnv = true
			resetHistory = Cfg.Database.URL != ""
		}

		reader := bufio.NewReader(cmd.InOrStdin())
		out := cmd.OutOrStdout()

		if resetEnv {
			if resetYes || confirm(out, reader, fmt.Sprintf("⚠️  Are you sure you want to delete the virtual environment at %s?", Cfg.VenvDir())) {
				fmt.Fprintln(out, "🗑️  Removing Python environment...")
				b, err := newBridge()
				if err != nil {
					utils.ShowError("Invalid configuration", err, "")
					return err
				}
				if err := b.Provisioner().Reset(); err != nil {
					utils.ShowError("Failed to remove the virtual environment", err, "")
					return err
				}
			}
		}

		if resetHistory {
			if resetYes || confirm(out, reader, "⚠️  Are you sure you want to DROP the prediction history?") {
				db, err := openStore(cmd.Context(), true)
				if err != nil {
					utils.ShowError("Failed to connect to database", err, "")
					return err
				}
				fmt.Fprintln(out, "🗑️  Clearing Database...")
				if err := db.Reset(cmd.Context()); err != nil {
					utils.ShowError("Failed to reset database", err, "")
					return err
				}
			}
		}

		fmt.Fprintln(out, "✨ System Reset Complete.")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetEnv, "env", false, "Delete the Python virtual environment")
	resetCmd.Flags().BoolVar(&resetHistory, "history", false, "Drop the prediction history tables")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

func confirm(out io.Writer, r *bufio.Reader, prompt string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}
