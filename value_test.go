package lumen

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValueTruthiness(t *testing.T) {
	assert.True(t, Nil.IsFalsy())
	assert.True(t, False.IsFalsy())
	assert.True(t, True.IsTruthy())
	assert.True(t, IntValue(0).IsTruthy())
	assert.True(t, newStringValue("").IsTruthy())
}

func TestValueTypeName(t *testing.T) {
	assert.Equal(t, "nil", Nil.TypeName())
	assert.Equal(t, "boolean", True.TypeName())
	assert.Equal(t, "number", IntValue(1).TypeName())
	assert.Equal(t, "number", FloatValue(1.5).TypeName())
	assert.Equal(t, "string", newStringValue("x").TypeName())
}

func TestRawEqualCrossesIntFloat(t *testing.T) {
	assert.True(t, RawEqual(IntValue(3), FloatValue(3.0)))
	assert.False(t, RawEqual(IntValue(3), FloatValue(3.5)))
	assert.False(t, RawEqual(Nil, False))
}

func TestRawEqualStringsByContent(t *testing.T) {
	a := newStringValue("hello")
	b := newStringValue("hello")
	assert.True(t, RawEqual(a, b))
}

func TestToNumberFromString(t *testing.T) {
	v := newStringValue("42")
	n, ok := v.ToNumber()
	assert.True(t, ok)
	assert.True(t, n.IsInt())
	assert.Equal(t, int64(42), n.AsInt())

	v = newStringValue("3.5")
	n, ok = v.ToNumber()
	assert.True(t, ok)
	assert.True(t, n.IsFloat())

	v = newStringValue("not a number")
	_, ok = v.ToNumber()
	assert.False(t, ok)
}

func TestToInteger(t *testing.T) {
	i, ok := FloatValue(4.0).ToInteger()
	assert.True(t, ok)
	assert.Equal(t, int64(4), i)

	_, ok = FloatValue(4.5).ToInteger()
	assert.False(t, ok)
}

func TestFormatFloat(t *testing.T) {
	assert.Equal(t, "1.0", formatFloat(1.0))
	assert.Equal(t, "1.5", formatFloat(1.5))
	assert.Equal(t, "nan", formatFloat(nan()))
}

func nan() float64 {
	var z float64
	return z / z
}
