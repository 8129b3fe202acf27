package lumen

import (
	"fmt"
	"strings"
)

// OpenBase registers the base library into l's globals (spec.md §2's
// "library surface" left to supplementation — print/type/pairs/pcall and
// friends are the minimum a host embedding this runtime expects to find
// already in the global table, mirroring the reference implementation's
// lbaselib.c).
func OpenBase(l *State) {
	reg := func(name string, fn HostFunc) {
		l.PushHostClosure(fn, name, 0)
		l.SetGlobal(name)
	}

	reg("print", basePrint)
	reg("type", baseType)
	reg("tostring", baseToString)
	reg("tonumber", baseToNumber)
	reg("pairs", basePairs)
	reg("ipairs", baseIPairs)
	reg("next", baseNext)
	reg("setmetatable", baseSetMetatable)
	reg("getmetatable", baseGetMetatable)
	reg("rawget", baseRawGet)
	reg("rawset", baseRawSet)
	reg("rawequal", baseRawEqual)
	reg("rawlen", baseRawLen)
	reg("assert", baseAssert)
	reg("error", baseError)
	reg("pcall", basePCall)
	reg("xpcall", baseXPCall)
	reg("select", baseSelect)
	reg("unpack", baseUnpack)
	reg("collectgarbage", baseCollectGarbage)

	l.PushString(Version)
	l.SetGlobal("_VERSION")

	globals := l.gs.Globals()
	globals.Set(newStringValueState(l.gs, "_G"), TableValue(globals))
}

func argAt(l *State, i int) Value {
	abs := l.AbsIndex(i)
	if abs < 0 || l.base+abs >= l.top {
		return Nil
	}
	return l.th.stack[l.base+abs]
}

func toDisplayString(l *State, v Value) string {
	mm := getMetamethod(l.gs, v, metaToString)
	if !mm.IsNil() {
		results := l.th.call(mm, []Value{v}, 1)
		if len(results) > 0 {
			return results[0].String()
		}
		return ""
	}
	if v.IsTable() {
		if mt := getMetatableOf(l.gs, v); mt != nil {
			if name := mt.Get(newStringValueState(l.gs, "__name")); name.IsString() {
				return name.AsString().text() + ": " + v.String()
			}
		}
	}
	return v.String()
}

func basePrint(l *State) int {
	n := l.GetTop()
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = toDisplayString(l, argAt(l, i))
	}
	l.gs.stdout(strings.Join(parts, "\t") + "\n")
	return 0
}

func baseType(l *State) int {
	l.PushString(argAt(l, 0).TypeName())
	return 1
}

func baseToString(l *State) int {
	l.PushString(toDisplayString(l, argAt(l, 0)))
	return 1
}

func baseToNumber(l *State) int {
	v := argAt(l, 0)
	if l.GetTop() >= 2 && v.IsString() {
		base, _ := argAt(l, 1).ToInteger()
		n, ok := parseIntBase(strings.TrimSpace(v.AsString().text()), int(base))
		if !ok {
			l.PushNil()
			return 1
		}
		l.PushInteger(n)
		return 1
	}
	if n, ok := v.ToNumber(); ok {
		l.push(n)
		return 1
	}
	l.PushNil()
	return 1
}

func parseIntBase(s string, base int) (int64, bool) {
	if s == "" || base < 2 || base > 36 {
		return 0, false
	}
	neg := false
	if s[0] == '+' || s[0] == '-' {
		neg = s[0] == '-'
		s = s[1:]
	}
	if s == "" {
		return 0, false
	}
	var n int64
	for _, c := range s {
		var d int64
		switch {
		case c >= '0' && c <= '9':
			d = int64(c - '0')
		case c >= 'a' && c <= 'z':
			d = int64(c-'a') + 10
		case c >= 'A' && c <= 'Z':
			d = int64(c-'A') + 10
		default:
			return 0, false
		}
		if d >= int64(base) {
			return 0, false
		}
		n = n*int64(base) + d
	}
	if neg {
		n = -n
	}
	return n, true
}

func basePairs(l *State) int {
	t := argAt(l, 0)
	mm := getMetamethod(l.gs, t, metaPairs)
	if !mm.IsNil() {
		results := l.th.call(mm, []Value{t}, 3)
		for _, v := range adjustResults(results, 3) {
			l.push(v)
		}
		return 3
	}
	l.GetGlobal("next")
	l.push(t)
	l.PushNil()
	return 3
}

func baseIPairs(l *State) int {
	l.PushHostClosure(ipairsIterator, "ipairs.iterator", 0)
	l.push(argAt(l, 0))
	l.PushInteger(0)
	return 3
}

func ipairsIterator(l *State) int {
	t := argAt(l, 0)
	i, _ := argAt(l, 1).ToInteger()
	i++
	v := indexGet(l.th, t, IntValue(i))
	if v.IsNil() {
		l.PushNil()
		return 1
	}
	l.PushInteger(i)
	l.push(v)
	return 2
}

func baseNext(l *State) int {
	t := argAt(l, 0).AsTable()
	key := Nil
	if l.GetTop() >= 2 {
		key = argAt(l, 1)
	}
	nk, nv, ok := t.next(key)
	if !ok {
		l.PushNil()
		return 1
	}
	l.push(nk)
	l.push(nv)
	return 2
}

func baseSetMetatable(l *State) int {
	t := argAt(l, 0)
	if !t.IsTable() {
		throwf(StatusRuntimeError, "bad argument #1 to 'setmetatable' (table expected)")
	}
	mtv := argAt(l, 1)
	if mt := getMetatableOf(l.gs, t); mt != nil && !mt.Get(newStringValueState(l.gs, "__metatable")).IsNil() {
		throwf(StatusRuntimeError, "cannot change a protected metatable")
	}
	if mtv.IsNil() {
		t.AsTable().metatable = nil
	} else {
		t.AsTable().metatable = mtv.AsTable()
	}
	l.gs.gc.barrierBackward(t.AsTable())
	l.push(t)
	return 1
}

func baseGetMetatable(l *State) int {
	v := argAt(l, 0)
	mt := getMetatableOf(l.gs, v)
	if mt == nil {
		l.PushNil()
		return 1
	}
	if prot := mt.Get(newStringValueState(l.gs, "__metatable")); !prot.IsNil() {
		l.push(prot)
		return 1
	}
	l.push(TableValue(mt))
	return 1
}

func baseRawGet(l *State) int {
	t := argAt(l, 0).AsTable()
	l.push(t.Get(argAt(l, 1)))
	return 1
}

func baseRawSet(l *State) int {
	t := argAt(l, 0).AsTable()
	t.Set(argAt(l, 1), argAt(l, 2))
	l.push(argAt(l, 0))
	return 1
}

func baseRawEqual(l *State) int {
	l.PushBoolean(RawEqual(argAt(l, 0), argAt(l, 1)))
	return 1
}

func baseRawLen(l *State) int {
	v := argAt(l, 0)
	if v.IsString() {
		l.PushInteger(int64(v.AsString().len()))
	} else {
		l.PushInteger(int64(tableLength(v.AsTable())))
	}
	return 1
}

func baseAssert(l *State) int {
	if argAt(l, 0).IsFalsy() {
		if l.GetTop() >= 2 {
			msg := argAt(l, 1)
			panic(protectedEscape{err: &RuntimeError{Status: StatusRuntimeError, Value: msg, Message: msg.String()}})
		}
		throwf(StatusRuntimeError, "assertion failed!")
	}
	n := l.GetTop()
	for i := 0; i < n; i++ {
		l.push(argAt(l, i))
	}
	return n
}

func baseError(l *State) int {
	v := argAt(l, 0)
	level := int64(1)
	if l.GetTop() >= 2 {
		level, _ = argAt(l, 1).ToInteger()
	}
	if v.IsString() && level > 0 && len(l.th.frames) > 0 {
		frame := l.th.frames[len(l.th.frames)-1]
		v = newStringValueState(l.gs, fmt.Sprintf("%s:%d: %s", frame.closure.proto.source, frame.closure.proto.lineAt(frame.pc), v.AsString().text()))
	}
	panic(protectedEscape{err: &RuntimeError{Status: StatusRuntimeError, Value: v, Message: v.String()}})
}

func basePCall(l *State) int {
	fn := argAt(l, 0)
	n := l.GetTop()
	args := make([]Value, 0, n-1)
	for i := 1; i < n; i++ {
		args = append(args, argAt(l, i))
	}
	results, rerr := l.th.pcall(fn, args, -1, Nil)
	if rerr != nil {
		l.PushBoolean(false)
		l.push(rerr.Value)
		return 2
	}
	l.PushBoolean(true)
	for _, v := range results {
		l.push(v)
	}
	return 1 + len(results)
}

func baseXPCall(l *State) int {
	fn := argAt(l, 0)
	handler := argAt(l, 1)
	n := l.GetTop()
	args := make([]Value, 0, n-2)
	for i := 2; i < n; i++ {
		args = append(args, argAt(l, i))
	}
	results, rerr := l.th.pcall(fn, args, -1, handler)
	if rerr != nil {
		handled := l.th.call(handler, []Value{rerr.Value}, 1)
		l.PushBoolean(false)
		for _, v := range handled {
			l.push(v)
		}
		return 1 + len(handled)
	}
	l.PushBoolean(true)
	for _, v := range results {
		l.push(v)
	}
	return 1 + len(results)
}

func baseSelect(l *State) int {
	sel := argAt(l, 0)
	n := l.GetTop()
	if sel.IsString() && sel.AsString().text() == "#" {
		l.PushInteger(int64(n - 1))
		return 1
	}
	i, _ := sel.ToInteger()
	if i < 0 {
		i = int64(n-1) + i + 1
	}
	if i < 1 {
		throwf(StatusRuntimeError, "bad argument #1 to 'select' (index out of range)")
	}
	count := 0
	for j := int64(i); j < int64(n); j++ {
		l.push(argAt(l, int(j)))
		count++
	}
	return count
}

func baseUnpack(l *State) int {
	t := argAt(l, 0).AsTable()
	i := int64(1)
	if l.GetTop() >= 2 {
		i, _ = argAt(l, 1).ToInteger()
	}
	j := int64(tableLength(t))
	if l.GetTop() >= 3 {
		j, _ = argAt(l, 2).ToInteger()
	}
	count := 0
	for k := i; k <= j; k++ {
		l.push(t.GetInt(k))
		count++
	}
	return count
}

func baseCollectGarbage(l *State) int {
	opt := "collect"
	if l.GetTop() >= 1 {
		if s, ok := l.ToString(0); ok {
			opt = s
		}
	}
	switch opt {
	case "stop":
		l.GCStop()
	case "restart":
		l.GCRestart()
	case "collect":
		l.GCCollect()
	case "count":
		l.PushFloat(float64(l.GCCount()) / 1024.0)
		return 1
	case "step":
		l.PushBoolean(l.GCStep(0))
		return 1
	case "isrunning":
		l.PushBoolean(l.GCIsRunning())
		return 1
	}
	l.PushInteger(0)
	return 1
}
