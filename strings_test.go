package lumen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInternReturnsSamePointerForShortStrings(t *testing.T) {
	gs := testGlobalState()
	a := gs.intern([]byte("hello"))
	b := gs.intern([]byte("hello"))
	assert.Same(t, a, b)
}

func TestInternDistinctBucketsRehashOnGrowth(t *testing.T) {
	gs := testGlobalState()
	seen := map[*stringObj]string{}
	for i := 0; i < 100; i++ {
		s := "key-" + strings.Repeat("x", i%5) + string(rune('a'+i%26))
		so := gs.intern([]byte(s))
		if prev, ok := seen[so]; ok {
			assert.Equal(t, prev, s)
		} else {
			seen[so] = s
		}
	}
	for so, s := range seen {
		assert.Equal(t, s, so.text())
	}
}

func TestLongStringsNotInterned(t *testing.T) {
	gs := testGlobalState()
	long := strings.Repeat("a", shortStringBound+1)
	a := gs.intern([]byte(long))
	b := gs.intern([]byte(long))
	assert.NotSame(t, a, b)
	assert.True(t, stringEqual(a, b))
}

func TestStringEqualShortVsLong(t *testing.T) {
	gs := testGlobalState()
	short := gs.intern([]byte("abc"))
	short2 := gs.intern([]byte("abc"))
	assert.True(t, stringEqual(short, short2))

	long := strings.Repeat("z", shortStringBound+5)
	l1 := newShortOrLongString([]byte(long))
	l2 := newShortOrLongString([]byte(long))
	assert.False(t, l1 == l2)
	assert.True(t, stringEqual(l1, l2))
}

func TestFnv1aDeterministic(t *testing.T) {
	assert.Equal(t, fnv1a([]byte("abc")), fnv1a([]byte("abc")))
	assert.NotEqual(t, fnv1a([]byte("abc")), fnv1a([]byte("abd")))
}

func TestLiteralCacheRoundTrip(t *testing.T) {
	gs := testGlobalState()
	c := newLiteralCache()
	s := gs.intern([]byte("cached"))
	c.put(1, s)
	got, ok := c.get(1)
	assert.True(t, ok)
	assert.Same(t, s, got)

	_, ok = c.get(2)
	assert.False(t, ok)
}
