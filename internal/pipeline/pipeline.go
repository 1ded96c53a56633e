// Package pipeline composes the tensor encoder, a classifier and the label
// decoder into a single image -> label call.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"

	"golang.org/x/sync/errgroup"

	"github.com/Brownie44l1/tsr-api/internal/labels"
	"github.com/Brownie44l1/tsr-api/internal/tensor"
)

var (
	// ErrInference wraps failures of the classifier engine.
	ErrInference = errors.New("pipeline: inference failed")

	// ErrInvalidTensor is returned when a raw tensor has the wrong length.
	ErrInvalidTensor = errors.New("pipeline: invalid tensor length")
)

// Classifier runs one inference. Implementations are used once and closed.
type Classifier interface {
	Run(input []float32) ([]float32, error)
	Close() error
}

// Opener acquires a Classifier for a single inference.
type Opener interface {
	Open() (Classifier, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func() (Classifier, error)

// Open calls f.
func (f OpenerFunc) Open() (Classifier, error) {
	return f()
}

// Pipeline is safe for concurrent use when its Opener is.
type Pipeline struct {
	encoder tensor.Encoder
	opener  Opener
	table   *labels.Table
}

// New builds a Pipeline. A nil table selects labels.Default().
func New(encoder tensor.Encoder, opener Opener, table *labels.Table) *Pipeline {
	if table == nil {
		table = labels.Default()
	}
	if encoder.Size <= 0 {
		encoder.Size = tensor.Width
	}
	return &Pipeline{encoder: encoder, opener: opener, table: table}
}

// Table returns the label table used for decoding.
func (p *Pipeline) Table() *labels.Table {
	return p.table
}

// InputLen is the tensor length ClassifyTensor accepts.
func (p *Pipeline) InputLen() int {
	return tensor.Len(p.encoder.Size)
}

// Classify encodes img, runs the classifier and decodes its output.
func (p *Pipeline) Classify(img image.Image) (*labels.Prediction, error) {
	_, pred, err := p.Infer(img)
	return pred, err
}

// Infer is Classify that also returns the raw classifier scores.
func (p *Pipeline) Infer(img image.Image) ([]float32, *labels.Prediction, error) {
	input, err := p.encoder.Encode(img)
	if err != nil {
		return nil, nil, err
	}
	return p.run(input)
}

// ClassifyTensor runs an already encoded tensor through the classifier.
func (p *Pipeline) ClassifyTensor(input []float32) ([]float32, *labels.Prediction, error) {
	if want := p.InputLen(); len(input) != want {
		return nil, nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidTensor, len(input), want)
	}
	return p.run(input)
}

func (p *Pipeline) run(input []float32) (scores []float32, pred *labels.Prediction, err error) {
	clf, err := p.opener.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: open: %v", ErrInference, err)
	}
	defer func() {
		if cerr := clf.Close(); cerr != nil && err == nil {
			scores, pred = nil, nil
			err = fmt.Errorf("%w: close: %v", ErrInference, cerr)
		}
	}()

	scores, err = clf.Run(input)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInference, err)
	}

	pred, err = p.table.Predict(scores)
	if err != nil {
		return nil, nil, err
	}
	return scores, pred, nil
}

// Result is the outcome for one image of a batch.
type Result struct {
	Index      int
	Scores     []float32
	Prediction *labels.Prediction
}

// ClassifyBatch classifies imgs with at most workers running at once. The
// first failure cancels the remaining images. Results keep input order.
// done, when set, is called from the worker goroutines as images finish.
func (p *Pipeline) ClassifyBatch(ctx context.Context, imgs []image.Image, workers int, done func(Result)) ([]Result, error) {
	if workers <= 0 {
		workers = 1
	}
	results := make([]Result, len(imgs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, img := range imgs {
		if gctx.Err() != nil {
			break
		}
		i, img := i, img
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			scores, pred, err := p.Infer(img)
			if err != nil {
				return fmt.Errorf("image %d: %w", i, err)
			}
			results[i] = Result{Index: i, Scores: scores, Prediction: pred}
			if done != nil {
				done(results[i])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
