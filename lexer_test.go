package lumen

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func scanAll(src string) []token {
	lx := newLexer("test", src)
	var out []token
	for {
		tok := lx.next()
		out = append(out, tok)
		if tok.kind == tkEOF {
			return out
		}
	}
}

func TestLexerKeywordsAndNames(t *testing.T) {
	toks := scanAll("local function end foo")
	assert.Equal(t, tkLocal, toks[0].kind)
	assert.Equal(t, tkFunction, toks[1].kind)
	assert.Equal(t, tkEnd, toks[2].kind)
	assert.Equal(t, tkName, toks[3].kind)
	assert.Equal(t, "foo", toks[3].text)
}

func TestLexerOperators(t *testing.T) {
	toks := scanAll("== ~= <= >= // .. ...")
	kinds := []tokenKind{tkEq, tkNe, tkLe, tkGe, tkDSlash, tkConcat, tkEllipsis}
	for i, k := range kinds {
		assert.Equal(t, k, toks[i].kind)
	}
}

func TestLexerDecimalAndHexNumbers(t *testing.T) {
	toks := scanAll("42 3.5 0x1A 1e3")
	assert.Equal(t, tkNumber, toks[0].kind)
	assert.Equal(t, int64(42), toks[0].numVal.AsInt())

	assert.Equal(t, tkNumber, toks[1].kind)
	assert.True(t, toks[1].numVal.IsFloat())
	assert.InDelta(t, 3.5, toks[1].numVal.AsFloat(), 1e-9)

	assert.Equal(t, tkNumber, toks[2].kind)
	assert.Equal(t, int64(26), toks[2].numVal.AsInt())

	assert.Equal(t, tkNumber, toks[3].kind)
	assert.True(t, toks[3].numVal.IsFloat())
	assert.InDelta(t, 1000.0, toks[3].numVal.AsFloat(), 1e-9)
}

func TestLexerShortStringEscapes(t *testing.T) {
	toks := scanAll(`"a\tb\nc\65"`)
	assert.Equal(t, tkString, toks[0].kind)
	assert.Equal(t, "a\tb\nc\x41", toks[0].numVal.AsString().text())
}

func TestLexerLongBracketString(t *testing.T) {
	toks := scanAll("[[hello\nworld]]")
	assert.Equal(t, tkString, toks[0].kind)
	assert.Equal(t, "hello\nworld", toks[0].numVal.AsString().text())
}

func TestLexerLongBracketWithLevel(t *testing.T) {
	toks := scanAll("[==[a]]b]==]")
	assert.Equal(t, tkString, toks[0].kind)
	assert.Equal(t, "a]]b", toks[0].numVal.AsString().text())
}

func TestLexerLineComments(t *testing.T) {
	toks := scanAll("-- comment\nlocal")
	assert.Equal(t, tkLocal, toks[0].kind)
	assert.Equal(t, 2, toks[0].line)
}

func TestLexerLongComment(t *testing.T) {
	toks := scanAll("--[[ multi\nline ]]local")
	assert.Equal(t, tkLocal, toks[0].kind)
}

func TestLexerTracksLineNumbers(t *testing.T) {
	toks := scanAll("local\nfoo\nbar")
	assert.Equal(t, 1, toks[0].line)
	assert.Equal(t, 2, toks[1].line)
	assert.Equal(t, 3, toks[2].line)
}
