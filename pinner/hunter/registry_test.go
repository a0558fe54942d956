package hunter

import (
	"context"
	"testing"
	"time"

	dbtesting "github.com/pintheon/pinner/pinner/db/testing"
	"github.com/pintheon/pinner/pinner/stellar"
	"github.com/pintheon/pinner/testing/assert"
	"github.com/pintheon/pinner/testing/require"
)

type stubChainRegistry struct {
	calls  int
	pinner *stellar.PinnerData
}

func (s *stubChainRegistry) GetPinner(_ context.Context, _ string) (*stellar.PinnerData, error) {
	s.calls++
	return s.pinner, nil
}

func TestRegistry_CachesChainLookups(t *testing.T) {
	db := dbtesting.SetupDB(t)
	chain := &stubChainRegistry{pinner: &stellar.PinnerData{
		Address:   rivalAddr,
		NodeID:    "12D3KooWRival",
		Multiaddr: "/ip4/10.0.0.9/tcp/4001",
		Active:    true,
	}}
	r := NewRegistry(db, chain, time.Hour)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		info, err := r.PinnerInfo(ctx, rivalAddr)
		require.NoError(t, err)
		require.NotNil(t, info)
		assert.Equal(t, "12D3KooWRival", info.NodeID)
	}
	assert.Equal(t, 1, chain.calls)
}

func TestRegistry_DurableLayerSurvivesHotCacheLoss(t *testing.T) {
	db := dbtesting.SetupDB(t)
	chain := &stubChainRegistry{pinner: &stellar.PinnerData{Address: rivalAddr, Active: true}}
	ctx := context.Background()

	r := NewRegistry(db, chain, time.Hour)
	_, err := r.PinnerInfo(ctx, rivalAddr)
	require.NoError(t, err)

	// A fresh registry over the same store models a daemon restart.
	r = NewRegistry(db, chain, time.Hour)
	info, err := r.PinnerInfo(ctx, rivalAddr)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, 1, chain.calls)
}

func TestRegistry_UnregisteredAddressIsNil(t *testing.T) {
	db := dbtesting.SetupDB(t)
	r := NewRegistry(db, &stubChainRegistry{pinner: nil}, time.Hour)

	info, err := r.PinnerInfo(context.Background(), "GNOBODY")
	require.NoError(t, err)
	assert.Equal(t, true, info == nil)
}

func TestRegistry_EvictForcesRefresh(t *testing.T) {
	db := dbtesting.SetupDB(t)
	chain := &stubChainRegistry{pinner: &stellar.PinnerData{Address: rivalAddr, Active: true}}
	r := NewRegistry(db, chain, time.Hour)
	ctx := context.Background()

	_, err := r.PinnerInfo(ctx, rivalAddr)
	require.NoError(t, err)
	require.NoError(t, r.Evict(ctx, rivalAddr))

	_, err = r.PinnerInfo(ctx, rivalAddr)
	require.NoError(t, err)
	assert.Equal(t, 2, chain.calls)
}
