// Package compression decides whether a batch is worth compressing and
// provides the codecs the decision is measured with.
package compression

import (
	"encoding/json"
	"fmt"

	"github.com/bft-labs/notibatch/internal/domain"
	"github.com/bft-labs/notibatch/internal/ports"
)

const (
	// ThresholdBytes is the serialized size a batch must exceed before
	// compression is attempted.
	ThresholdBytes = 1024

	// MinWorthwhileRatio is the compressed/original ratio a codec must beat.
	MinWorthwhileRatio = 0.9
)

// Result describes one compression evaluation.
type Result struct {
	Codec          string
	OriginalSize   int
	CompressedSize int
	Worthwhile     bool
}

// Ratio returns CompressedSize/OriginalSize, or 1 when nothing was compressed.
func (r Result) Ratio() float64 {
	if r.OriginalSize == 0 || r.CompressedSize == 0 {
		return 1
	}
	return float64(r.CompressedSize) / float64(r.OriginalSize)
}

// ShouldAttempt reports whether a payload of size bytes is large enough to compress.
func ShouldAttempt(size int) bool {
	return size > ThresholdBytes
}

// Evaluator measures batches against a codec. It holds no mutable state.
type Evaluator struct {
	codec ports.Compressor
}

// NewEvaluator creates an evaluator using codec.
func NewEvaluator(codec ports.Compressor) *Evaluator {
	return &Evaluator{codec: codec}
}

// Evaluate serializes batch and compresses it with the configured codec.
// Batches at or below ThresholdBytes are not compressed and are never worthwhile.
func (e *Evaluator) Evaluate(batch []domain.Message) (Result, error) {
	raw, err := json.Marshal(batch)
	if err != nil {
		return Result{}, fmt.Errorf("serialize batch: %w", err)
	}

	res := Result{Codec: e.codec.Name(), OriginalSize: len(raw)}
	if !ShouldAttempt(len(raw)) {
		return res, nil
	}

	compressed, err := e.codec.Compress(raw)
	if err != nil {
		return res, fmt.Errorf("compress batch with %s: %w", e.codec.Name(), err)
	}
	res.CompressedSize = len(compressed)
	res.Worthwhile = res.Ratio() < MinWorthwhileRatio
	return res, nil
}
