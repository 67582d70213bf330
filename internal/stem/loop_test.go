package stem_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stemrun/stemcore/internal/admission"
	"github.com/stemrun/stemcore/internal/continuity"
	"github.com/stemrun/stemcore/internal/ledger"
	"github.com/stemrun/stemcore/internal/registry"
	"github.com/stemrun/stemcore/internal/spine"
	"github.com/stemrun/stemcore/internal/stem"
)

type fakeIngress struct {
	batches [][]stem.Sense
	idx     int
}

func (f *fakeIngress) Recv(ctx context.Context) ([]stem.Sense, error) {
	if f.idx >= len(f.batches) {
		return []stem.Sense{{Sleep: true}}, nil
	}

	b := f.batches[f.idx]
	f.idx++

	return b, nil
}

type noEndpointsRouter struct{}

func (noEndpointsRouter) Resolve(registry.RouteKey) (spine.Endpoint, bool) { return nil, false }

func TestStemLoopSleepEndsRun(t *testing.T) {
	l := ledger.New(1_000)
	reg := registry.New()
	dispatcher := spine.New(noEndpointsRouter{})

	loopUnderTest := stem.New(l, reg, admission.MapProfileRegistry{}, nil, dispatcher, continuity.AlwaysAllowGuard{}, &fakeIngress{batches: nil}, nil, nil, ledger.PolicyVersions{}, 5)

	report, sleep, err := loopUnderTest.RunOne(context.Background())
	require.NoError(t, err)
	require.True(t, sleep)
	require.Equal(t, int64(1), report.Cycle)
}
