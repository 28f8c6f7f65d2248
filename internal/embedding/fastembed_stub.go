//go:build !cgo

package embedding

import "context"

// FastEmbedder is unavailable without CGO.
type FastEmbedder struct{}

func NewFastEmbedder(_, _ string, _ int) (*FastEmbedder, error) {
	return nil, errNoCGO
}

func (f *FastEmbedder) Embed(context.Context, string) ([]float32, error) { return nil, errNoCGO }

func (f *FastEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errNoCGO
}

func (f *FastEmbedder) EmbedQuery(context.Context, string) ([]float32, error) { return nil, errNoCGO }

func (f *FastEmbedder) Dimensions() int { return 0 }

func (f *FastEmbedder) Close() error { return nil }
