// Package bridge implements image_to_text: one call provisions the Python environment if
// needed, runs the inference script on the image and returns the recovered text.
package bridge

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/andresmejia3/scribe/internal/bridgeerr"
	"github.com/andresmejia3/scribe/internal/config"
	"github.com/andresmejia3/scribe/internal/extract"
	"github.com/andresmejia3/scribe/internal/imageinput"
	"github.com/andresmejia3/scribe/internal/invoker"
	"github.com/andresmejia3/scribe/internal/logging"
	"github.com/andresmejia3/scribe/internal/provision"
	"github.com/andresmejia3/scribe/internal/types"
)

// Recorder persists the outcome of each request. Failures to record never fail the request.
type Recorder interface {
	RecordPrediction(ctx context.Context, rec types.PredictionRecord) error
}

// Input is the image for one request. Exactly one of Base64 and Path is set.
type Input struct {
	Base64 string
	Path   string
}

// Result is a successful prediction with its request metadata.
type Result struct {
	types.Prediction
	RequestID string        `json:"request_id"`
	ImageID   string        `json:"image_id"`
	Resized   bool          `json:"resized"`
	Duration  time.Duration `json:"-"`
}

// Option customises a Bridge.
type Option func(*options)

type options struct {
	logger   *zap.Logger
	recorder Recorder
	runner   provision.Runner
	progress func(string)
}

// WithLogger sets the structured logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRecorder enables prediction history.
func WithRecorder(r Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithRunner replaces the command runner used during provisioning.
func WithRunner(r provision.Runner) Option {
	return func(o *options) { o.runner = r }
}

// WithProgress receives a short description of each provisioning step.
func WithProgress(fn func(step string)) Option {
	return func(o *options) { o.progress = fn }
}

// Bridge owns the provisioner, invoker and extractor for one resource directory.
type Bridge struct {
	paths       types.ResourcePaths
	provisioner *provision.Provisioner
	invoker     *invoker.Invoker
	extractor   *extract.Extractor
	normalizer  *imageinput.Normalizer
	recorder    Recorder
	logger      *zap.Logger

	// One request at a time: the script loads the whole model and is not safe to overlap.
	mu sync.Mutex
}

// New wires a Bridge from configuration. Resource paths are resolved here once; their existence
// is checked before every invocation so a missing file surfaces as a launch error.
func New(cfg *config.Config, opts ...Option) (*Bridge, error) {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	mode, err := extract.ParseMode(cfg.Inference.OutputMode)
	if err != nil {
		return nil, err
	}

	paths, err := ResolveResources(cfg)
	if err != nil {
		return nil, err
	}

	venv, err := filepath.Abs(cfg.VenvDir())
	if err != nil {
		return nil, err
	}

	prov := provision.New(provision.Options{
		Interpreter:     cfg.Python.Interpreter,
		RequiredVersion: cfg.Python.Version,
		VenvDir:         venv,
		Requirements:    cfg.RequirementsPath(),
		Runner:          o.runner,
		Logger:          o.logger,
		Progress:        o.progress,
	})

	return &Bridge{
		paths:       paths,
		provisioner: prov,
		invoker:     invoker.New(cfg.Inference.Timeout, o.logger),
		extractor:   extract.New(mode),
		normalizer:  imageinput.NewNormalizer(cfg.Inference.MaxImageDim, invoker.MaxArgBytes),
		recorder:    o.recorder,
		logger:      o.logger.Named("bridge"),
	}, nil
}

// ResolveResources returns absolute paths of the script, model and character set.
func ResolveResources(cfg *config.Config) (types.ResourcePaths, error) {
	var paths types.ResourcePaths
	targets := []struct {
		name string
		dst  *string
	}{
		{cfg.Resources.Script, &paths.ScriptPath},
		{cfg.Resources.Model, &paths.ModelPath},
		{cfg.Resources.Charset, &paths.CharsetPath},
	}
	for _, t := range targets {
		abs, err := filepath.Abs(cfg.ResourcePath(t.name))
		if err != nil {
			return paths, err
		}
		*t.dst = abs
	}
	return paths, nil
}

// Resources returns the resolved resource paths.
func (b *Bridge) Resources() types.ResourcePaths {
	return b.paths
}

// Provisioner exposes the environment provisioner for the provision and reset commands.
func (b *Bridge) Provisioner() *provision.Provisioner {
	return b.provisioner
}

// ImageToText predicts the text in a base64-encoded image.
func (b *Bridge) ImageToText(ctx context.Context, image string) (types.Prediction, error) {
	res, err := b.Predict(ctx, Input{Base64: image})
	if err != nil {
		return types.Prediction{}, err
	}
	return res.Prediction, nil
}

// Predict runs one request end to end: normalise the image, make sure the environment is ready,
// run the script and extract the prediction. Every failure is a *bridgeerr.Error stamped with
// the request id.
func (b *Bridge) Predict(ctx context.Context, in Input) (Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	req := types.InferenceRequest{ID: uuid.NewString()}
	log := logging.WithOperation(b.logger, "image_to_text", req.ID)
	start := time.Now()

	res, err := b.predict(ctx, &req, in, log)
	res.RequestID = req.ID
	res.Duration = time.Since(start)

	if err != nil {
		err = bridgeerr.WithRequest(err, req.ID)
		kind, _ := bridgeerr.KindOf(err)
		log.Warn("prediction failed", zap.String("category", kind.String()), zap.Error(err))
	} else {
		log.Info("prediction complete",
			zap.String("prediction", res.Text),
			zap.Duration("duration", res.Duration),
		)
	}

	b.record(ctx, res, err, log)
	if err != nil {
		return Result{RequestID: req.ID}, err
	}
	return res, nil
}

func (b *Bridge) predict(ctx context.Context, req *types.InferenceRequest, in Input, log *zap.Logger) (Result, error) {
	var (
		payload imageinput.Payload
		err     error
	)
	switch {
	case in.Path != "" && in.Base64 != "":
		return Result{}, bridgeerr.Newf(bridgeerr.KindInput, "image_to_text", "both an image path and a base64 payload were given")
	case in.Path != "":
		payload, err = b.normalizer.FromFile(in.Path)
	default:
		payload, err = b.normalizer.FromBase64(in.Base64)
	}
	if err != nil {
		return Result{}, err
	}
	req.ImagePayload = payload.Base64
	res := Result{ImageID: payload.ImageID, Resized: payload.Resized}
	if payload.Resized {
		log.Debug("image downscaled", zap.Int("width", payload.Width), zap.Int("height", payload.Height))
	}

	env, err := b.provisioner.Ensure(ctx)
	if err != nil {
		return res, err
	}
	log.Debug("environment ready", zap.String("python", env.InterpreterVersion))

	out, err := b.invoker.Run(ctx, invoker.Args{
		Interpreter: b.provisioner.VenvPython(),
		Script:      b.paths.ScriptPath,
		Charset:     b.paths.CharsetPath,
		Model:       b.paths.ModelPath,
		Image:       req.ImagePayload,
	})
	if err != nil {
		return res, err
	}

	prediction, err := b.extractor.Extract(string(out.Stdout))
	if err != nil {
		var be *bridgeerr.Error
		if errors.As(err, &be) {
			be.WithStderr(out.Stderr)
		}
		return res, err
	}
	res.Prediction = prediction
	return res, nil
}

func (b *Bridge) record(ctx context.Context, res Result, err error, log *zap.Logger) {
	if b.recorder == nil {
		return
	}
	rec := types.PredictionRecord{
		RequestID:  res.RequestID,
		ImageID:    res.ImageID,
		Prediction: res.Text,
		Duration:   res.Duration,
		CreatedAt:  time.Now().UTC(),
	}
	if err != nil {
		kind, _ := bridgeerr.KindOf(err)
		rec.ErrorKind = kind.String()
		rec.ErrorMessage = err.Error()
	}
	// The caller's context may already be cancelled; history is still written.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if rerr := b.recorder.RecordPrediction(recordCtx, rec); rerr != nil {
		log.Warn("failed to record prediction", zap.Error(rerr))
	}
}
