package prefetch_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/ripple/pkg/prefetch"
)

func TestPredictorRanksByFrequency(t *testing.T) {
	p := prefetch.NewPredictor()
	p.Record("/list", "/detail")
	p.Record("/list", "/detail")
	p.Record("/list", "/settings")

	require.Equal(t, []string{"/detail", "/settings"}, p.Predict("/list", 2))
}

func TestPredictorTopNTruncates(t *testing.T) {
	p := prefetch.NewPredictor()
	p.Record("/list", "/detail")
	p.Record("/list", "/settings")

	require.Len(t, p.Predict("/list", 1), 1)
}

func TestPredictorUnknownPageReturnsNil(t *testing.T) {
	p := prefetch.NewPredictor()
	require.Nil(t, p.Predict("/nowhere", 3))
}

func TestPredictorTieBreaksByFirstSeenOrder(t *testing.T) {
	p := prefetch.NewPredictor()
	p.Record("/list", "/b")
	p.Record("/list", "/a")

	require.Equal(t, []string{"/b", "/a"}, p.Predict("/list", 2))
}
