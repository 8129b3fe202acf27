package lumen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableArrayPart(t *testing.T) {
	gs := testGlobalState()
	tbl := NewTable(gs)
	tbl.Set(IntValue(1), IntValue(10))
	tbl.Set(IntValue(2), IntValue(20))
	tbl.Set(IntValue(3), IntValue(30))

	assert.Equal(t, IntValue(10), tbl.Get(IntValue(1)))
	assert.Equal(t, IntValue(20), tbl.GetInt(2))
	assert.Equal(t, 3, tableLength(tbl))
}

func TestTableHashPart(t *testing.T) {
	gs := testGlobalState()
	tbl := NewTable(gs)
	key := newStringValue("name")
	tbl.Set(key, newStringValue("lumen"))
	assert.Equal(t, "lumen", tbl.Get(key).String())

	tbl.Set(key, Nil)
	assert.True(t, tbl.Get(key).IsNil())
}

func TestTableFloatKeyNormalizesToInt(t *testing.T) {
	gs := testGlobalState()
	tbl := NewTable(gs)
	tbl.Set(FloatValue(2.0), newStringValue("two"))
	assert.Equal(t, "two", tbl.Get(IntValue(2)).String())
}

func TestTableNilAndNaNKeysRejected(t *testing.T) {
	gs := testGlobalState()
	tbl := NewTable(gs)
	assert.Panics(t, func() { tbl.Set(Nil, IntValue(1)) })
	assert.Panics(t, func() { tbl.Set(FloatValue(nan()), IntValue(1)) })
}

func TestTableRehashUnderLoad(t *testing.T) {
	gs := testGlobalState()
	tbl := NewTable(gs)
	for i := 0; i < 200; i++ {
		tbl.Set(IntValue(int64(i)*2+1), IntValue(int64(i)))
	}
	for i := 0; i < 200; i++ {
		got := tbl.Get(IntValue(int64(i)*2 + 1))
		require.Equal(t, IntValue(int64(i)), got)
	}
}

func TestTableNextVisitsEveryLiveKeyOnce(t *testing.T) {
	gs := testGlobalState()
	tbl := NewTable(gs)
	tbl.Set(IntValue(1), IntValue(100))
	tbl.Set(IntValue(2), IntValue(200))
	tbl.Set(newStringValue("extra"), IntValue(300))

	seen := map[string]bool{}
	key := Nil
	for {
		nk, nv, ok := tbl.next(key)
		if !ok {
			break
		}
		seen[nk.String()+"="+nv.String()] = true
		key = nk
	}
	assert.Len(t, seen, 3)
	assert.True(t, seen["1=100"])
	assert.True(t, seen["2=200"])
	assert.True(t, seen["extra=300"])
}

func testGlobalState() *GlobalState {
	return NewState().gs
}
