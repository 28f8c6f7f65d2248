package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchRequest_Validate(t *testing.T) {
	score := func(v float64) *float64 { return &v }
	tests := []struct {
		name    string
		req     SearchRequest
		wantErr bool
		wantK   int
	}{
		{"defaults k", SearchRequest{Query: "x"}, false, DefaultSearchK},
		{"caps k", SearchRequest{Query: "x", K: 500}, false, MaxSearchK},
		{"keeps k", SearchRequest{Query: "x", K: 3}, false, 3},
		{"negative k", SearchRequest{Query: "x", K: -1}, true, 0},
		{"min score out of range", SearchRequest{Query: "x", MinScore: score(1.5)}, true, 0},
		{"empty query allowed", SearchRequest{}, false, DefaultSearchK},
		{"bad filter value", SearchRequest{Query: "x", Filter: Metadata{"k": map[string]any{}}}, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantK, tt.req.K)
		})
	}
}

func TestCrossSiloRequest_Validate(t *testing.T) {
	req := CrossSiloRequest{Query: "q"}
	require.NoError(t, req.Validate())
	assert.Equal(t, DefaultSearchK, req.K)

	bad := CrossSiloRequest{Query: "q", K: -2}
	assert.Error(t, bad.Validate())
}
