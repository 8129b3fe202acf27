package lumen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runOK(t *testing.T, src string) *State {
	t.Helper()
	l := NewState()
	if err := l.DoString(src, "=test"); err != nil {
		t.Fatalf("script failed: %s", err.Message)
	}
	return l
}

func globalInt(t *testing.T, l *State, name string) int64 {
	t.Helper()
	l.GetGlobal(name)
	n, ok := l.ToInteger(-1)
	require.True(t, ok, "global %s is not an integer", name)
	l.SetTop(l.GetTop() - 1)
	return n
}

func globalString(t *testing.T, l *State, name string) string {
	t.Helper()
	l.GetGlobal(name)
	s, ok := l.ToString(-1)
	require.True(t, ok, "global %s is not a string", name)
	l.SetTop(l.GetTop() - 1)
	return s
}

func TestVMArithmetic(t *testing.T) {
	l := runOK(t, `result = 1 + 2 * 3 - 4 / 2`)
	l.GetGlobal("result")
	f, ok := l.ToNumber(-1)
	require.True(t, ok)
	assert.InDelta(t, 5.0, f, 1e-9)
}

func TestVMIntegerDivisionAndModulo(t *testing.T) {
	l := runOK(t, `a = 7 // 2; b = 7 % 2`)
	assert.Equal(t, int64(3), globalInt(t, l, "a"))
	assert.Equal(t, int64(1), globalInt(t, l, "b"))
}

func TestVMStringConcatenation(t *testing.T) {
	l := runOK(t, `s = "hello" .. " " .. "world"`)
	assert.Equal(t, "hello world", globalString(t, l, "s"))
}

func TestVMTableOperations(t *testing.T) {
	l := runOK(t, `
		t = {}
		t[1] = "a"
		t[2] = "b"
		t.name = "tbl"
		len = #t
		name = t.name
	`)
	assert.Equal(t, int64(2), globalInt(t, l, "len"))
	assert.Equal(t, "tbl", globalString(t, l, "name"))
}

func TestVMControlFlowWhileAndIf(t *testing.T) {
	l := runOK(t, `
		local i = 0
		local sum = 0
		while i < 5 do
			i = i + 1
			if i % 2 == 0 then
				sum = sum + i
			end
		end
		total = sum
	`)
	assert.Equal(t, int64(6), globalInt(t, l, "total"))
}

func TestVMFunctionCallsAndRecursion(t *testing.T) {
	l := runOK(t, `
		local function fact(n)
			if n <= 1 then return 1 end
			return n * fact(n - 1)
		end
		result = fact(5)
	`)
	assert.Equal(t, int64(120), globalInt(t, l, "result"))
}

func TestVMClosuresCaptureUpvalues(t *testing.T) {
	l := runOK(t, `
		local function makeCounter()
			local n = 0
			return function()
				n = n + 1
				return n
			end
		end
		local c = makeCounter()
		c()
		c()
		result = c()
	`)
	assert.Equal(t, int64(3), globalInt(t, l, "result"))
}

func TestVMMultipleReturnsAndVarargs(t *testing.T) {
	l := runOK(t, `
		local function two() return 1, 2 end
		local a, b = two()
		sum = a + b

		local function f(...)
			return select("#", ...)
		end
		count = f(1, 2, 3)
	`)
	assert.Equal(t, int64(3), globalInt(t, l, "sum"))
	assert.Equal(t, int64(3), globalInt(t, l, "count"))
}

func TestVMMetamethodIndexAndNewIndex(t *testing.T) {
	l := runOK(t, `
		local base = {greeting = "hi"}
		local mt = {__index = base}
		local t = setmetatable({}, mt)
		result = t.greeting
	`)
	assert.Equal(t, "hi", globalString(t, l, "result"))
}

func TestVMMetamethodArithAndEq(t *testing.T) {
	l := runOK(t, `
		local mt = {}
		mt.__add = function(a, b) return setmetatable({v = a.v + b.v}, mt) end
		mt.__eq = function(a, b) return a.v == b.v end
		local a = setmetatable({v = 1}, mt)
		local b = setmetatable({v = 2}, mt)
		local c = a + b
		result = c.v
		eq = (c == setmetatable({v = 3}, mt))
	`)
	assert.Equal(t, int64(3), globalInt(t, l, "result"))
	l.GetGlobal("eq")
	assert.True(t, l.ToBoolean(-1))
}

func TestVMMetamethodCall(t *testing.T) {
	l := runOK(t, `
		local callable = setmetatable({}, {__call = function(self, x) return x * 2 end})
		result = callable(21)
	`)
	assert.Equal(t, int64(42), globalInt(t, l, "result"))
}

func TestVMMetamethodToString(t *testing.T) {
	l := runOK(t, `
		local t = setmetatable({}, {__tostring = function() return "custom" end})
		result = tostring(t)
	`)
	assert.Equal(t, "custom", globalString(t, l, "result"))
}

func TestVMGenericForWithPairs(t *testing.T) {
	l := runOK(t, `
		local t = {10, 20, 30}
		local sum = 0
		for i, v in ipairs(t) do
			sum = sum + v
		end
		result = sum
	`)
	assert.Equal(t, int64(60), globalInt(t, l, "result"))
}

func TestVMPCallCatchesRuntimeError(t *testing.T) {
	l := runOK(t, `
		ok, msg = pcall(function() error("boom") end)
	`)
	l.GetGlobal("ok")
	assert.False(t, l.ToBoolean(-1))
}
