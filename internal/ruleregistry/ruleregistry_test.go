package ruleregistry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymesh/relaymesh/internal/endpoint"
	"github.com/relaymesh/relaymesh/internal/rerrors"
)

func newInfo(laddr string) *endpoint.Info {
	return &endpoint.Info{Endpoint: &endpoint.Endpoint{LocalAddr: laddr}}
}

func TestAddRejectsDuplicate(t *testing.T) {
	r := New()
	require.NoError(t, r.Add(newInfo("0.0.0.0:1"), func() {}))

	err := r.Add(newInfo("0.0.0.0:1"), func() {})
	require.Error(t, err)
	assert.Equal(t, rerrors.KindDuplicate, rerrors.KindOf(err))
}

func TestRemoveCallsCancel(t *testing.T) {
	r := New()
	cancelled := false
	require.NoError(t, r.Add(newInfo("0.0.0.0:1"), func() { cancelled = true }))

	require.NoError(t, r.Remove("0.0.0.0:1"))
	assert.True(t, cancelled)

	_, ok := r.Get("0.0.0.0:1")
	assert.False(t, ok)
}

func TestRemoveNotFound(t *testing.T) {
	r := New()
	err := r.Remove("missing")
	require.Error(t, err)
	assert.Equal(t, rerrors.KindNotFound, rerrors.KindOf(err))
}

func TestListReturnsAllRules(t *testing.T) {
	r := New()
	require.NoError(t, r.Add(newInfo("0.0.0.0:1"), func() {}))
	require.NoError(t, r.Add(newInfo("0.0.0.0:2"), func() {}))

	assert.Len(t, r.List(), 2)
}

func TestReserveRejectsDuplicateBeforeCommit(t *testing.T) {
	r := New()
	res1, err := r.Reserve(newInfo("0.0.0.0:1"))
	require.NoError(t, err)

	_, err = r.Reserve(newInfo("0.0.0.0:1"))
	require.Error(t, err)
	assert.Equal(t, rerrors.KindDuplicate, rerrors.KindOf(err))

	res1.Commit(func() {})
	_, ok := r.Get("0.0.0.0:1")
	assert.True(t, ok)
}

func TestReserveRollbackFreesTheID(t *testing.T) {
	r := New()
	res, err := r.Reserve(newInfo("0.0.0.0:1"))
	require.NoError(t, err)
	res.Rollback()

	_, ok := r.Get("0.0.0.0:1")
	assert.False(t, ok)

	res2, err := r.Reserve(newInfo("0.0.0.0:1"))
	require.NoError(t, err)
	res2.Commit(func() {})
}

func TestRemoveDuringReservationCancelsOnCommit(t *testing.T) {
	r := New()
	res, err := r.Reserve(newInfo("0.0.0.0:1"))
	require.NoError(t, err)

	err = r.Remove("0.0.0.0:1")
	require.NoError(t, err)

	cancelled := false
	res.Commit(func() { cancelled = true })
	assert.True(t, cancelled)
}
