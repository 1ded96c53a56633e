package model

import (
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ErrClosed is returned when opening a session on a closed runtime.
var ErrClosed = errors.New("model: runtime closed")

// Options configures a Runtime.
type Options struct {
	ModelPath string
	// LibraryPath points at the onnxruntime shared library. Empty uses the
	// loader's default search path.
	LibraryPath string
	Metadata    Metadata
}

// Runtime owns the ONNX environment. Each inference opens its own Session,
// so a Runtime is safe for concurrent use.
type Runtime struct {
	opts Options

	mu     sync.Mutex
	closed bool
}

// NewRuntime initializes the ONNX environment for the model at opts.ModelPath.
func NewRuntime(opts Options) (*Runtime, error) {
	if err := opts.Metadata.Validate(); err != nil {
		return nil, err
	}
	if opts.Metadata.InputName == "" || opts.Metadata.OutputName == "" {
		return nil, fmt.Errorf("%w: input_name and output_name are required", ErrInvalidMetadata)
	}
	if opts.LibraryPath != "" {
		ort.SetSharedLibraryPath(opts.LibraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}
	return &Runtime{opts: opts}, nil
}

// Metadata returns the model description the runtime was built with.
func (r *Runtime) Metadata() Metadata {
	return r.opts.Metadata
}

// Open creates a session for a single inference. The caller must Close it.
func (r *Runtime) Open() (*Session, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	meta := r.opts.Metadata
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(r.opts.ModelPath,
		[]string{meta.InputName}, []string{meta.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &Session{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// Close tears down the ONNX environment. Sessions must be closed first.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// Session is one model instance with its own input and output buffers.
type Session struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

// Run feeds input to the model and returns a copy of its scores.
func (s *Session) Run(input []float32) ([]float32, error) {
	if s.session == nil {
		return nil, ErrClosed
	}
	dst := s.inputTensor.GetData()
	if len(input) != len(dst) {
		return nil, fmt.Errorf("model: input has %d values, want %d", len(input), len(dst))
	}
	copy(dst, input)

	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	return append([]float32(nil), s.outputTensor.GetData()...), nil
}

// Close releases the session and its tensors. It is safe to call twice.
func (s *Session) Close() error {
	var errs []error
	if s.inputTensor != nil {
		errs = append(errs, s.inputTensor.Destroy())
		s.inputTensor = nil
	}
	if s.outputTensor != nil {
		errs = append(errs, s.outputTensor.Destroy())
		s.outputTensor = nil
	}
	if s.session != nil {
		errs = append(errs, s.session.Destroy())
		s.session = nil
	}
	return errors.Join(errs...)
}
