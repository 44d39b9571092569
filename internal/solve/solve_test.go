package solve

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipiton/depsolve/internal/archplat"
	"github.com/ipiton/depsolve/internal/ifacecache"
	"github.com/ipiton/depsolve/internal/model"
	"github.com/ipiton/depsolve/internal/policy"
	"github.com/ipiton/depsolve/internal/ranker"
	"github.com/ipiton/depsolve/internal/solver"
)

type noopWaiter struct{ called bool }

func (w *noopWaiter) Wait(ctx context.Context) error {
	w.called = true
	return nil
}

func TestOnce_ReadyOnFirstPass(t *testing.T) {
	ifaces := ifacecache.NewMemory(0)
	ifaces.Put(&model.Interface{
		URI: "http://foo/Root.xml",
		Implementations: map[string]*model.Implementation{
			"sha1=1": {ID: "sha1=1", Version: model.MustParseVersion("1.0"), Stability: model.Stable},
		},
		LastModified: time.Now(),
	})

	arch := archplat.New()
	pol := policy.New("http://foo/Root.xml", policy.NetworkOffline)
	rk := ranker.New(pol, arch, func(*model.Implementation) bool { return true })
	sv := solver.New(solver.Options{Interfaces: ifaces, Arch: arch, Ranker: rk, Policy: pol})

	waiter := &noopWaiter{}
	sels, err := Once(context.Background(), "http://foo/Root.xml", sv, waiter)
	require.NoError(t, err)
	assert.False(t, waiter.called)
	require.Contains(t, sels.Selections, "http://foo/Root.xml")
	assert.Equal(t, "sha1=1", sels.Selections["http://foo/Root.xml"].ID)
}

func TestOnce_WaitsOnceThenGivesUp(t *testing.T) {
	ifaces := ifacecache.NewMemory(0)
	// Root interface has no implementations and is never populated: the
	// solve cannot become ready even after waiting.
	arch := archplat.New()
	pol := policy.New("http://foo/Missing.xml", policy.NetworkOffline)
	rk := ranker.New(pol, arch, func(*model.Implementation) bool { return true })
	sv := solver.New(solver.Options{Interfaces: ifaces, Arch: arch, Ranker: rk, Policy: pol})

	waiter := &noopWaiter{}
	_, err := Once(context.Background(), "http://foo/Missing.xml", sv, waiter)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotReady)
	assert.True(t, waiter.called)
}

