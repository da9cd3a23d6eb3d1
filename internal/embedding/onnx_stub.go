//go:build !cgo

package embedding

import (
	"context"
	"errors"
)

var errONNXUnavailable = errors.New("ONNX embedder requires CGO; build with CGO_ENABLED=1 and onnxruntime")

// DefaultONNXOutput is the per-token output of a transformer exported with Optimum.
const DefaultONNXOutput = "last_hidden_state"

// ONNXConfig describes a transformer exported to ONNX together with its tokenizer.json.
type ONNXConfig struct {
	ModelPath     string
	TokenizerPath string
	OutputName    string
	Dimensions    int
	MaxTokens     int
}

// ONNXEmbedder is a placeholder when built without CGO.
type ONNXEmbedder struct{}

// NewONNXEmbedder always fails without CGO.
func NewONNXEmbedder(ONNXConfig) (*ONNXEmbedder, error) {
	return nil, errONNXUnavailable
}

func (e *ONNXEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errONNXUnavailable
}

func (e *ONNXEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errONNXUnavailable
}

func (e *ONNXEmbedder) Dimensions() int { return 0 }
func (e *ONNXEmbedder) Close() error    { return nil }
