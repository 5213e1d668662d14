// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBegin_SupersedesSameConversation(t *testing.T) {
	m := NewManager(zerolog.Nop())

	first := m.Begin(context.Background(), "conv_1", "msg_a")
	second := m.Begin(context.Background(), "conv_1", "msg_b")

	require.ErrorIs(t, first.Context().Err(), context.Canceled)
	assert.True(t, first.Superseded())
	assert.NoError(t, second.Context().Err())
	assert.False(t, second.Superseded())

	cur, ok := m.Current("conv_1")
	require.True(t, ok)
	assert.Same(t, second, cur)
	assert.Equal(t, 1, m.Len())
}

func TestBegin_OtherConversationsIndependent(t *testing.T) {
	m := NewManager(zerolog.Nop())

	a := m.Begin(context.Background(), "conv_a", "m1")
	b := m.Begin(context.Background(), "conv_b", "m2")

	assert.NoError(t, a.Context().Err())
	assert.NoError(t, b.Context().Err())
	assert.Equal(t, 2, m.Len())
}

func TestEnd_OnlyRemovesCurrent(t *testing.T) {
	m := NewManager(zerolog.Nop())

	old := m.Begin(context.Background(), "conv_1", "m1")
	cur := m.Begin(context.Background(), "conv_1", "m2")

	assert.False(t, m.End(old), "stale session must not unregister the new one")
	_, ok := m.Current("conv_1")
	assert.True(t, ok)

	assert.True(t, m.End(cur))
	_, ok = m.Current("conv_1")
	assert.False(t, ok)
	assert.Error(t, cur.Context().Err())
}

func TestCancelAndCancelAll(t *testing.T) {
	m := NewManager(zerolog.Nop())
	a := m.Begin(context.Background(), "conv_a", "m1")
	b := m.Begin(context.Background(), "conv_b", "m2")

	assert.True(t, m.Cancel("conv_a"))
	assert.False(t, m.Cancel("conv_missing"))
	assert.Error(t, a.Context().Err())
	assert.NoError(t, b.Context().Err())
	assert.False(t, a.Superseded())

	m.CancelAll()
	assert.Error(t, b.Context().Err())
}

func TestManager_ConcurrentBegin(t *testing.T) {
	m := NewManager(zerolog.Nop())

	var wg sync.WaitGroup
	sessions := make([]*StreamSession, 50)
	for i := range sessions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sessions[i] = m.Begin(context.Background(), "conv_1", "m")
		}(i)
	}
	wg.Wait()

	live := 0
	for _, s := range sessions {
		if s.Context().Err() == nil {
			live++
		}
	}
	assert.Equal(t, 1, live)
	assert.Equal(t, 1, m.Len())
}
