//go:build !cgo

package embedding

import (
	"context"
	"errors"
)

var errNoCGO = errors.New("embedding provider requires CGO; build with CGO_ENABLED=1")

// ONNXEmbedder is unavailable without CGO.
type ONNXEmbedder struct{}

func NewONNXEmbedder(_ string, _, _ int) (*ONNXEmbedder, error) {
	return nil, errNoCGO
}

func (e *ONNXEmbedder) Embed(context.Context, string) ([]float32, error) { return nil, errNoCGO }

func (e *ONNXEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errNoCGO
}

func (e *ONNXEmbedder) Dimensions() int { return 0 }

func (e *ONNXEmbedder) Close() error { return nil }
