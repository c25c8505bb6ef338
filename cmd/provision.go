package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/andresmejia3/scribe/internal/bridge"
	"github.com/andresmejia3/scribe/internal/bridgeerr"
	"github.com/andresmejia3/scribe/internal/types"
	"github.com/andresmejia3/scribe/internal/utils"
)

var provisionJSON bool

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Check the Python interpreter and build the model's virtual environment",
	Long: `Verifies the required Python version, creates the virtual environment and installs the
model's dependencies if needed, then reports the environment state. Installing TensorFlow
takes several minutes the first time; later runs return immediately.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runProvision(cmd.Context(), cmd.OutOrStdout(), provisionJSON)
	},
}

func init() {
	provisionCmd.Flags().BoolVar(&provisionJSON, "json", false, "Print the environment state as JSON")
	rootCmd.AddCommand(provisionCmd)
}

func runProvision(ctx context.Context, out io.Writer, asJSON bool) error {
	// -1 max renders a spinner: pip gives us no usable total
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("🐍 Preparing Python environment"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionSpinnerType(14),
		progressbar.OptionClearOnFinish(),
	)

	b, err := newBridge(bridge.WithProgress(func(step string) {
		bar.Describe("🐍 " + step)
	}))
	if err != nil {
		utils.ShowError("Invalid configuration", err, "")
		return err
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				_ = bar.Add(1)
			}
		}
	}()

	env, err := b.Provisioner().Ensure(ctx)
	close(done)
	_ = bar.Finish()

	if err != nil {
		var be *bridgeerr.Error
		stderr := ""
		if errors.As(err, &be) {
			stderr = be.Stderr
		}
		utils.ShowError("Python environment is not ready", err, stderr)
		return err
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(env)
	}
	printEnvironment(out, env, b.Resources())
	return nil
}

func printEnvironment(out io.Writer, env types.EnvironmentState, paths types.ResourcePaths) {
	check := func(ok bool) string {
		if ok {
			return "✅"
		}
		return "❌"
	}
	fmt.Fprintf(out, "%s Interpreter:   %s\n", check(env.InterpreterVersion != ""), env.InterpreterVersion)
	fmt.Fprintf(out, "%s Virtualenv:    present\n", check(env.VenvPresent))
	fmt.Fprintf(out, "%s Dependencies:  installed\n", check(env.DependenciesInstalled))
	for _, r := range []struct{ name, path string }{
		{"Script", paths.ScriptPath},
		{"Model", paths.ModelPath},
		{"Charset", paths.CharsetPath},
	} {
		_, statErr := os.Stat(r.path)
		fmt.Fprintf(out, "%s %-14s %s\n", check(statErr == nil), r.name+":", r.path)
	}
}
