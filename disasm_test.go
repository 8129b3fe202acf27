package lumen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisassembleSourceListsInstructions(t *testing.T) {
	l := NewState()
	listing, err := DisassembleSource(l, `
		local x = 1 + 2
		return x
	`, "=chunk")
	require.Nil(t, err)
	assert.Contains(t, listing, "vararg function")
	assert.Contains(t, listing, "[1]")
}

func TestDisassembleSourcePropagatesSyntaxError(t *testing.T) {
	l := NewState()
	_, err := DisassembleSource(l, "local = = =", "=chunk")
	require.NotNil(t, err)
	assert.Equal(t, StatusSyntaxError, err.Status)
}

func TestDisassembleSourceShowsConstants(t *testing.T) {
	l := NewState()
	listing, err := DisassembleSource(l, `return "hello"`, "=chunk")
	require.Nil(t, err)
	assert.Contains(t, listing, `"hello"`)
}

func TestDisassembleSourceColorAddsEscapeCodes(t *testing.T) {
	l := NewState()
	plain, err := DisassembleSource(l, `return 1`, "=chunk")
	require.Nil(t, err)
	colored, err := DisassembleSourceColor(l, `return 1`, "=chunk")
	require.Nil(t, err)
	assert.NotEqual(t, plain, colored)
	assert.True(t, strings.Contains(colored, "\033["))
}

func TestDisassembleSourceNestedFunctions(t *testing.T) {
	l := NewState()
	listing, err := DisassembleSource(l, `
		local function outer()
			local function inner() return 1 end
			return inner()
		end
	`, "=chunk")
	require.Nil(t, err)
	assert.GreaterOrEqual(t, strings.Count(listing, "function"), 2)
}
