package lumen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoroutineResumeYieldRoundTrip(t *testing.T) {
	l := NewState()
	err := l.DoString(`
		co = coroutine.create(function(a)
			local b = coroutine.yield(a + 1)
			return b + 1
		end)
	`, "=test")
	require.Nil(t, err)

	err = l.DoString(`ok1, first = coroutine.resume(co, 10)`, "=test")
	require.Nil(t, err)
	l.GetGlobal("ok1")
	assert.True(t, l.ToBoolean(-1))
	l.SetTop(l.GetTop() - 1)
	l.GetGlobal("first")
	n, ok := l.ToInteger(-1)
	require.True(t, ok)
	assert.Equal(t, int64(11), n)

	err = l.DoString(`ok2, second = coroutine.resume(co, 20)`, "=test")
	require.Nil(t, err)
	l.GetGlobal("second")
	n, ok = l.ToInteger(-1)
	require.True(t, ok)
	assert.Equal(t, int64(21), n)
}

func TestCoroutineStatusTransitions(t *testing.T) {
	l := NewState()
	err := l.DoString(`
		co = coroutine.create(function()
			coroutine.yield()
		end)
		before = coroutine.status(co)
		coroutine.resume(co)
		suspended = coroutine.status(co)
		coroutine.resume(co)
		afterDead = coroutine.status(co)
	`, "=test")
	require.Nil(t, err)

	assert.Equal(t, "suspended", globalString(t, l, "before"))
	assert.Equal(t, "suspended", globalString(t, l, "suspended"))
	assert.Equal(t, "dead", globalString(t, l, "afterDead"))
}

func TestCoroutineErrorPropagatesAsFalsePlusMessage(t *testing.T) {
	l := NewState()
	err := l.DoString(`
		co = coroutine.create(function() error("broken") end)
		ok, msg = coroutine.resume(co)
	`, "=test")
	require.Nil(t, err)

	l.GetGlobal("ok")
	assert.False(t, l.ToBoolean(-1))
}

func TestCoroutineWrapReRaisesErrors(t *testing.T) {
	l := NewState()
	err := l.DoString(`
		f = coroutine.wrap(function() error("wrapped failure") end)
		ok, msg = pcall(f)
	`, "=test")
	require.Nil(t, err)

	l.GetGlobal("ok")
	assert.False(t, l.ToBoolean(-1))
}
