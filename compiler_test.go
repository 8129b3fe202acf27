package lumen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compileOK(t *testing.T, src string) *FunctionProto {
	t.Helper()
	gs := testGlobalState()
	proto, err := Compile(gs, src, "=test")
	require.Nil(t, err, "%v", err)
	require.NotNil(t, proto)
	return proto
}

func TestCompileSimpleAssignment(t *testing.T) {
	proto := compileOK(t, "x = 1 + 2")
	assert.NotEmpty(t, proto.code)
}

func TestCompileIfElseif(t *testing.T) {
	proto := compileOK(t, `
		if x then
			y = 1
		elseif z then
			y = 2
		else
			y = 3
		end
	`)
	assert.NotEmpty(t, proto.code)
}

func TestCompileWhileAndRepeat(t *testing.T) {
	compileOK(t, `
		local i = 0
		while i < 10 do
			i = i + 1
		end
		repeat
			i = i - 1
		until i == 0
	`)
}

func TestCompileNumericAndGenericFor(t *testing.T) {
	compileOK(t, `
		for i = 1, 10, 2 do
			print(i)
		end
		for k, v in pairs(t) do
			print(k, v)
		end
	`)
}

func TestCompileFunctionsAndClosures(t *testing.T) {
	proto := compileOK(t, `
		local function counter()
			local n = 0
			return function()
				n = n + 1
				return n
			end
		end
	`)
	assert.NotEmpty(t, proto.code)
}

func TestCompileTableConstructors(t *testing.T) {
	compileOK(t, `
		local t = {1, 2, 3, key = "value", [10] = "ten"}
	`)
}

func TestCompileGotoAndLabel(t *testing.T) {
	compileOK(t, `
		do
			goto done
			print("skipped")
			::done::
		end
	`)
}

func TestCompileMultipleAssignmentAndVarargs(t *testing.T) {
	compileOK(t, `
		local function f(...)
			local a, b, c = ...
			return a, b, c
		end
	`)
}

func TestCompileSyntaxErrorReported(t *testing.T) {
	gs := testGlobalState()
	_, err := Compile(gs, "local = = =", "=test")
	require.NotNil(t, err)
	assert.Equal(t, StatusSyntaxError, err.Status)
}
