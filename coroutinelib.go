package lumen

// OpenCoroutine registers the `coroutine` library table (spec.md §5
// "Coroutines", glossary "Thread"), mirroring the reference
// implementation's lcorolib.c surface on top of this runtime's
// goroutine-per-thread Thread (thread.go).
func OpenCoroutine(l *State) {
	l.NewTable(0, 8)
	reg := func(name string, fn HostFunc) {
		l.PushHostClosure(fn, name, 0)
		l.SetField(-2, name)
	}
	reg("create", coroCreate)
	reg("resume", coroResume)
	reg("yield", coroYield)
	reg("status", coroStatus)
	reg("isyieldable", coroIsYieldable)
	reg("running", coroRunning)
	reg("wrap", coroWrap)
	l.SetGlobal("coroutine")
}

func coroCreate(l *State) int {
	fn := argAt(l, 0)
	if !fn.IsFunction() || fn.AsFunction().IsHost() {
		throwf(StatusRuntimeError, "bad argument #1 to 'create' (Lua function expected)")
	}
	th := NewCoroutine(l.gs, fn.AsFunction())
	l.PushThread(th)
	return 1
}

func coroResume(l *State) int {
	thv := argAt(l, 0)
	if !thv.IsThread() {
		throwf(StatusRuntimeError, "bad argument #1 to 'resume' (coroutine expected)")
	}
	th := thv.AsThread()
	n := l.GetTop()
	args := make([]Value, 0, n-1)
	for i := 1; i < n; i++ {
		args = append(args, argAt(l, i))
	}
	results, err := th.Resume(l.th, args)
	if err != nil {
		l.PushBoolean(false)
		l.push(err.Value)
		return 2
	}
	l.PushBoolean(true)
	for _, v := range results {
		l.push(v)
	}
	return 1 + len(results)
}

func coroYield(l *State) int {
	n := l.GetTop()
	vs := make([]Value, n)
	for i := 0; i < n; i++ {
		vs[i] = argAt(l, i)
	}
	results := l.th.Yield(vs)
	for _, v := range results {
		l.push(v)
	}
	return len(results)
}

func coroStatus(l *State) int {
	thv := argAt(l, 0)
	if !thv.IsThread() {
		throwf(StatusRuntimeError, "bad argument #1 to 'status' (coroutine expected)")
	}
	l.push(newStringValueState(l.gs, thv.AsThread().status.String()))
	return 1
}

func coroIsYieldable(l *State) int {
	l.PushBoolean(l.IsYieldable())
	return 1
}

func coroRunning(l *State) int {
	l.PushThread(l.th)
	l.PushBoolean(l.th == l.gs.mainThread)
	return 2
}

// coroWrap implements `coroutine.wrap`: create a coroutine and return a
// host closure over it that resumes and re-raises errors instead of
// reporting them as a boolean (spec.md §6.1 `coroutine-resume`'s wrap
// variant).
func coroWrap(l *State) int {
	fn := argAt(l, 0)
	if !fn.IsFunction() || fn.AsFunction().IsHost() {
		throwf(StatusRuntimeError, "bad argument #1 to 'wrap' (Lua function expected)")
	}
	th := NewCoroutine(l.gs, fn.AsFunction())
	l.PushHostClosure(func(l *State) int {
		n := l.GetTop()
		args := make([]Value, n)
		for i := 0; i < n; i++ {
			args[i] = argAt(l, i)
		}
		results, err := th.Resume(l.th, args)
		if err != nil {
			panic(protectedEscape{err: err})
		}
		for _, v := range results {
			l.push(v)
		}
		return len(results)
	}, "wrapped coroutine", 0)
	return 1
}
