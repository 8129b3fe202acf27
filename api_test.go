package lumen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIStackPushAndTop(t *testing.T) {
	l := NewState()
	assert.Equal(t, 0, l.GetTop())
	l.PushInteger(1)
	l.PushInteger(2)
	l.PushInteger(3)
	assert.Equal(t, 3, l.GetTop())
	l.SetTop(1)
	assert.Equal(t, 1, l.GetTop())
	n, ok := l.ToInteger(0)
	require.True(t, ok)
	assert.Equal(t, int64(1), n)
}

func TestAPIPushValueAndCopy(t *testing.T) {
	l := NewState()
	l.PushString("a")
	l.PushString("b")
	l.PushValue(0)
	s, _ := l.ToString(-1)
	assert.Equal(t, "a", s)
}

func TestAPITableRoundTrip(t *testing.T) {
	l := NewState()
	l.NewTable(0, 0)
	l.PushString("value")
	l.SetField(0, "key")

	l.GetField(0, "key")
	s, ok := l.ToString(-1)
	require.True(t, ok)
	assert.Equal(t, "value", s)
}

func TestAPISetAndGetGlobal(t *testing.T) {
	l := NewState()
	l.PushInteger(99)
	l.SetGlobal("answer")
	l.GetGlobal("answer")
	n, ok := l.ToInteger(-1)
	require.True(t, ok)
	assert.Equal(t, int64(99), n)
}

func TestAPILoadAndCall(t *testing.T) {
	l := NewState()
	err := l.Load("return 1 + 41", "=chunk")
	require.Nil(t, err)
	l.Call(0, 1)
	n, ok := l.ToInteger(-1)
	require.True(t, ok)
	assert.Equal(t, int64(42), n)
}

func TestAPIPCallReportsRuntimeError(t *testing.T) {
	l := NewState()
	err := l.Load(`error("oops")`, "=chunk")
	require.Nil(t, err)
	status := l.PCall(0, 0, 0)
	assert.Equal(t, StatusRuntimeError, status)
}

func TestAPIHostClosureCallableFromScript(t *testing.T) {
	l := NewState()
	called := false
	l.PushHostClosure(func(st *State) int {
		called = true
		st.PushInteger(7)
		return 1
	}, "probe", 0)
	l.SetGlobal("probe")

	err := l.DoString("result = probe()", "=chunk")
	require.Nil(t, err)
	assert.True(t, called)
}

func TestAPIGCControls(t *testing.T) {
	l := NewState()
	assert.True(t, l.GCIsRunning())
	l.GCStop()
	assert.False(t, l.GCIsRunning())
	l.GCRestart()
	assert.True(t, l.GCIsRunning())
	l.GCCollect()
	l.GCSetPause(150)
	l.GCSetStepMultiplier(150)
}

func TestAPIRawEqualAndCompare(t *testing.T) {
	l := NewState()
	l.PushInteger(3)
	l.PushFloat(3.0)
	assert.True(t, l.RawEqual(-1, -2))
	assert.True(t, l.Compare(-1, -2, CompareEQ))
}

func TestAPIVersion(t *testing.T) {
	l := NewState()
	assert.Equal(t, Version, l.Version())
}
