package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/andresmejia3/scribe/internal/bridge"
	"github.com/andresmejia3/scribe/internal/bridgeerr"
	"github.com/andresmejia3/scribe/internal/config"
	"github.com/andresmejia3/scribe/internal/utils"
)

type predictOptions struct {
	ImagePath string
	Base64    string
	JSON      bool
	Timeout   time.Duration
	Mode      string
}

var predictOpts predictOptions

var predictCmd = &cobra.Command{
	Use:   "predict [image_path | -]",
	Short: "Recognise the handwritten text in an image",
	Long: `Runs the handwriting model on one image and prints the recognised text.

The image can be a file (positional argument or --image), a base64 string or data URL
(--base64), or base64 read from stdin ("-"). The Python environment is provisioned on
first use.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if err := applyPredictFlags(Cfg, predictOpts, cmd.Flags().Changed("timeout"), cmd.Flags().Changed("mode")); err != nil {
			return err
		}

		in, err := predictInput(cmd.InOrStdin(), args, predictOpts)
		if err != nil {
			if predictOpts.JSON {
				newEventWriter(cmd.OutOrStdout()).Error(err)
			}
			return err
		}
		return runPredict(cmd.Context(), cmd.OutOrStdout(), in, predictOpts)
	},
}

func init() {
	predictCmd.Flags().StringVarP(&predictOpts.ImagePath, "image", "i", "", "Path to an image file")
	predictCmd.Flags().StringVarP(&predictOpts.Base64, "base64", "b", "", "Base64 image payload or data URL")
	predictCmd.Flags().BoolVar(&predictOpts.JSON, "json", false, "Emit JSON events on stdout for a host UI")
	predictCmd.Flags().DurationVarP(&predictOpts.Timeout, "timeout", "t", 2*time.Minute, "Maximum runtime of the inference script")
	predictCmd.Flags().StringVar(&predictOpts.Mode, "mode", "auto", "Result format: auto, structured, legacy")
	rootCmd.AddCommand(predictCmd)
}

// applyPredictFlags copies explicitly set flags over the loaded configuration and validates the
// result again, so a flag cannot bypass the checks the config file goes through.
func applyPredictFlags(cfg *config.Config, opts predictOptions, timeoutSet, modeSet bool) error {
	if timeoutSet {
		cfg.Inference.Timeout = opts.Timeout
	}
	if modeSet {
		cfg.Inference.OutputMode = opts.Mode
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	return nil
}

// predictInput picks the single image source from flags, the positional argument or stdin.
func predictInput(stdin io.Reader, args []string, opts predictOptions) (bridge.Input, error) {
	sources := 0
	for _, set := range []bool{opts.ImagePath != "", opts.Base64 != "", len(args) > 0} {
		if set {
			sources++
		}
	}
	if sources > 1 {
		return bridge.Input{}, bridgeerr.Newf(bridgeerr.KindInput, "predict", "give exactly one of --image, --base64 or a positional argument")
	}

	switch {
	case opts.ImagePath != "":
		return bridge.Input{Path: opts.ImagePath}, nil
	case opts.Base64 != "":
		return bridge.Input{Base64: opts.Base64}, nil
	case len(args) == 1 && args[0] != "-":
		return bridge.Input{Path: args[0]}, nil
	case len(args) == 1:
		data, err := io.ReadAll(stdin)
		if err != nil {
			return bridge.Input{}, bridgeerr.New(bridgeerr.KindInput, "predict", err)
		}
		return bridge.Input{Base64: strings.TrimSpace(string(data))}, nil
	}
	return bridge.Input{}, bridgeerr.Newf(bridgeerr.KindInput, "predict", "no image given: pass a path, --base64, or - to read stdin")
}

func runPredict(ctx context.Context, out io.Writer, in bridge.Input, opts predictOptions) error {
	var events *eventWriter
	progress := func(step string) { fmt.Fprintf(os.Stderr, "📦 %s...\n", step) }
	if opts.JSON {
		events = newEventWriter(out)
		progress = events.Progress
	}

	bridgeOpts := []bridge.Option{bridge.WithProgress(progress)}
	db, err := openStore(ctx, false)
	if err != nil {
		// History is optional; predictions still work without it.
		Logger.Warn("prediction history disabled", zap.Error(err))
	} else if db != nil {
		bridgeOpts = append(bridgeOpts, bridge.WithRecorder(db))
	}

	b, err := newBridge(bridgeOpts...)
	if err != nil {
		if events != nil {
			events.Error(err)
		} else {
			utils.ShowError("Invalid configuration", err, "")
		}
		return err
	}

	if !opts.JSON {
		fmt.Fprintln(os.Stderr, "🔍 Reading handwriting...")
	}
	res, err := b.Predict(ctx, in)
	if err != nil {
		if events != nil {
			events.Error(err)
			return err
		}
		var be *bridgeerr.Error
		stderr := ""
		if errors.As(err, &be) {
			stderr = be.Stderr
		}
		utils.ShowError(describeFailure(err), err, stderr)
		return err
	}

	if events != nil {
		events.Result(res)
		return nil
	}
	fmt.Fprintln(out, res.Text)
	return nil
}

// describeFailure is the headline shown to a user for each failure category.
func describeFailure(err error) string {
	var be *bridgeerr.Error
	if !errors.As(err, &be) {
		return "Prediction failed"
	}
	switch be.Kind {
	case bridgeerr.KindInput:
		return "The image could not be used"
	case bridgeerr.KindEnvironment:
		return "Python environment is not ready"
	case bridgeerr.KindLaunch:
		return "Could not start the inference script"
	case bridgeerr.KindExecution:
		if be.Timeout {
			return "Inference timed out"
		}
		return "Inference script failed"
	case bridgeerr.KindParse:
		return "Could not read the prediction from the script output"
	}
	return "Prediction failed"
}
