// Package model runs the pretrained food classifier through ONNX Runtime.
package model

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"time"

	apperrors "github.com/Brownie44l1/food-ai-api/internal/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	ort "github.com/yalue/onnxruntime_go"
)

var inferenceDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "foodai_inference_duration_seconds",
		Help:    "Classifier inference latency in seconds, including preprocessing",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"outcome"},
)

// Options locates the model files and sizes the session pool.
type Options struct {
	ModelPath         string
	MetadataPath      string
	SharedLibraryPath string
	Sessions          int
}

// runner executes the model on tensors it owns. input is filled before run
// and output is read after it, so a runner serves one caller at a time.
type runner interface {
	input() []float32
	output() []float32
	run() error
	destroy()
}

// session is a runner backed by an ONNX Runtime session bound to its own
// input and output tensors.
type session struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

func (s *session) input() []float32  { return s.inputTensor.GetData() }
func (s *session) output() []float32 { return s.outputTensor.GetData() }
func (s *session) run() error        { return s.session.Run() }

func (s *session) destroy() {
	if s.session != nil {
		s.session.Destroy()
	}
	if s.inputTensor != nil {
		s.inputTensor.Destroy()
	}
	if s.outputTensor != nil {
		s.outputTensor.Destroy()
	}
}

// Server owns the loaded model. It is safe for concurrent use; concurrent
// Classify calls beyond the pool size wait for a free session.
type Server struct {
	Metadata Metadata
	sessions chan runner
	all      []runner
}

// NewServer loads metadata, initializes the ONNX Runtime environment and
// creates opts.Sessions sessions (at least one).
func NewServer(opts Options) (*Server, error) {
	metadata, err := LoadMetadata(opts.MetadataPath)
	if err != nil {
		return nil, err
	}

	if opts.SharedLibraryPath != "" {
		ort.SetSharedLibraryPath(opts.SharedLibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	size := opts.Sessions
	if size < 1 {
		size = 1
	}

	runners := make([]runner, 0, size)
	for i := 0; i < size; i++ {
		sess, err := newSession(opts.ModelPath, metadata)
		if err != nil {
			for _, r := range runners {
				r.destroy()
			}
			destroyEnvironment()
			return nil, err
		}
		runners = append(runners, sess)
	}
	s := newPool(metadata, runners)

	slog.Info("model loaded",
		"model", opts.ModelPath,
		"classes", len(metadata.Classes),
		"imageSize", metadata.ImageSize,
		"sessions", size,
	)
	return s, nil
}

func newSession(modelPath string, metadata Metadata) (*session, error) {
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(metadata.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(metadata.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	sess, err := ort.NewAdvancedSession(modelPath,
		[]string{metadata.InputName}, []string{metadata.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &session{
		session:      sess,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// newPool makes every runner available to Classify.
func newPool(metadata Metadata, runners []runner) *Server {
	s := &Server{
		Metadata: metadata,
		sessions: make(chan runner, len(runners)),
		all:      runners,
	}
	for _, r := range runners {
		s.sessions <- r
	}
	return s
}

// Labels returns the model's label vocabulary.
func (s *Server) Labels() []string {
	return s.Metadata.Classes
}

// Classify preprocesses img, runs inference on a pooled session and returns
// the highest-scoring label. It waits for a free session until ctx is done.
func (s *Server) Classify(ctx context.Context, img image.Image) (Prediction, error) {
	start := time.Now()

	inputData := s.Metadata.Preprocess(img)
	if len(inputData) != s.Metadata.InputSize() {
		return Prediction{}, apperrors.NewWithContext(apperrors.ErrCodeInternal, "preprocessed input has wrong size",
			map[string]any{"got": len(inputData), "want": s.Metadata.InputSize()})
	}

	var sess runner
	select {
	case sess = <-s.sessions:
	case <-ctx.Done():
		return Prediction{}, apperrors.Wrap(apperrors.ErrCodeUnavailable, "no classifier session available", ctx.Err())
	}
	defer func() { s.sessions <- sess }()

	copy(sess.input(), inputData)
	if err := sess.run(); err != nil {
		inferenceDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return Prediction{}, apperrors.Wrap(apperrors.ErrCodeInternal, "inference failed", err)
	}

	// The output tensor is reused by the next run, so predict reads it before release.
	prediction := s.Metadata.predict(sess.output())
	inferenceDuration.WithLabelValues("success").Observe(time.Since(start).Seconds())
	return prediction, nil
}

// Close releases every session and tears down the ONNX Runtime environment.
func (s *Server) Close() {
	for _, sess := range s.all {
		sess.destroy()
	}
	s.all = nil
	destroyEnvironment()
}

func destroyEnvironment() {
	if ort.IsInitialized() {
		if err := ort.DestroyEnvironment(); err != nil {
			slog.Warn("failed to destroy ONNX environment", "error", err)
		}
	}
}
