package lumen

// gcPhase enumerates the collector's state machine (spec.md §4.6
// "States"): pause -> propagate -> atomic -> sweep-allgc -> sweep-finobj
// -> sweep-tobefnz -> callfinalizers -> pause.
type gcPhase int

const (
	gcPhasePause gcPhase = iota
	gcPhasePropagate
	gcPhaseAtomic
	gcPhaseSweepAllGC
	gcPhaseSweepFinObj
	gcPhaseSweepToBeFnz
	gcPhaseCallFinalizers
)

// weakTableRef tags a table that was live when it was queued for the
// atomic phase's weak/ephemeron processing (spec.md §4.6 "Atomic phase").
type weakTableRef struct {
	table   *Table
	weakKey bool
	weakVal bool
}

// gcState is the incremental tri-color collector (spec.md §4.6). It owns
// the global object list (threaded through every object's gcHeader.next),
// the gray work queue, and the sweep cursor.
type gcState struct {
	gs *GlobalState

	phase        gcPhase
	currentWhite gcColor

	allHead gcObject // head of the global object list
	sweepAt gcObject // sweep cursor into allHead's chain

	gray       []gcObject
	grayAgain  []gcObject // re-queued by the backward write barrier

	roots []gcObject

	weakTables []weakTableRef

	finobj    []gcObject // objects with a finalizer registered
	tobefnz   []gcObject // objects whose finalizer is queued to run

	running bool
	debt    int64 // bytes allocated since the last GC step (spec.md §4.1)
	estimate int64

	pause   int // percent heap growth that triggers a new cycle
	stepMul int // percent work performed per byte allocated
}

func newGCState(gs *GlobalState) *gcState {
	return &gcState{
		gs:           gs,
		currentWhite: gcWhite0,
		running:      true,
		pause:        200,
		stepMul:      200,
	}
}

func (g *gcState) otherWhite() gcColor {
	if g.currentWhite == gcWhite0 {
		return gcWhite1
	}
	return gcWhite0
}

// registerObject links a freshly allocated object onto the global list,
// colored the current white (spec.md §4.6 "Roots"/"Sweep").
func (g *gcState) registerObject(o gcObject) {
	h := o.header()
	h.color = g.currentWhite
	h.next = g.allHead
	g.allHead = o
}

func (g *gcState) addRoot(o gcObject) {
	g.roots = append(g.roots, o)
}

// ---- marking ----

func (g *gcState) markValue(v Value) {
	if v.isCollectable() {
		if o := v.gcObj(); o != nil {
			g.markObject(o)
		}
	}
}

// markObject grays a white object, queueing it for propagation (spec.md
// §4.6 "Propagate").
func (g *gcState) markObject(o gcObject) {
	if o == nil {
		return
	}
	h := o.header()
	if h.color == gcGray || h.color == gcBlack {
		return
	}
	h.color = gcGray
	g.gray = append(g.gray, o)
}

// barrierForward implements spec.md §4.6's forward write barrier: "when a
// black object acquires a reference to a white object, mark the white
// object gray." Used for non-table collectable writes (upvalue closing,
// userdata uservalue, closure upvalues).
func (g *gcState) barrierForward(owner gcObject, v Value) {
	oh := owner.header()
	if oh.color != gcBlack || g.phase == gcPhasePause {
		return
	}
	g.markValue(v)
}

// barrierBackward implements spec.md §4.6's backward write barrier for
// tables: repaint the black table gray and enqueue it for reprocessing,
// rather than graying every value written into it (tables are written
// frequently, so amortizing is worth the cost of revisiting the whole
// table once more).
func (g *gcState) barrierBackward(t *Table) {
	if t.gcHeader.color != gcBlack || g.phase == gcPhasePause {
		return
	}
	t.gcHeader.color = gcGray
	g.grayAgain = append(g.grayAgain, t)
}

// barrierUpvalue implements spec.md §4.6's upvalue barrier: closing an
// open upvalue whose pointee becomes a heap value may need to gray the
// upvalue cell itself.
func (g *gcState) barrierUpvalue(u *upvalue) {
	if u.gcHeader.color == gcBlack {
		g.barrierForward(u, u.value)
	}
}

// ---- stepping ----

// step spends a budget of workUnits work units (spec.md §4.6 "Each call to
// the collector consumes a fixed work unit quantity"), advancing the state
// machine as far as that budget allows.
func (g *gcState) step(workUnits int) {
	if !g.running {
		return
	}
	for workUnits > 0 {
		switch g.phase {
		case gcPhasePause:
			g.startCycle()
			workUnits--
		case gcPhasePropagate:
			if len(g.gray) == 0 {
				g.phase = gcPhaseAtomic
				continue
			}
			n := g.gray[len(g.gray)-1]
			g.gray = g.gray[:len(g.gray)-1]
			g.propagateOne(n)
			workUnits--
		case gcPhaseAtomic:
			g.atomic()
			g.phase = gcPhaseSweepAllGC
			g.sweepAt = g.allHead
		case gcPhaseSweepAllGC:
			workUnits = g.sweepStep(workUnits)
			if g.sweepAt == nil {
				g.phase = gcPhaseSweepFinObj
			}
		case gcPhaseSweepFinObj:
			g.phase = gcPhaseSweepToBeFnz
		case gcPhaseSweepToBeFnz:
			g.phase = gcPhaseCallFinalizers
		case gcPhaseCallFinalizers:
			g.callPendingFinalizers(false)
			g.phase = gcPhasePause
			g.currentWhite = g.otherWhite()
			return
		}
	}
}

func (g *gcState) startCycle() {
	g.gray = g.gray[:0]
	g.grayAgain = g.grayAgain[:0]
	g.weakTables = g.weakTables[:0]
	for _, r := range g.roots {
		g.markObject(r)
	}
	g.phase = gcPhasePropagate
}

func (g *gcState) propagateOne(o gcObject) {
	o.traverse(g)
	o.header().color = gcBlack
	if t, ok := o.(*Table); ok && t.metatable != nil {
		if mode := t.metatable.Get(StringValue(g.gs.metaNames[metaMode])); mode.IsString() {
			mstr := mode.AsString().text()
			wk, wv := containsByte(mstr, 'k'), containsByte(mstr, 'v')
			if wk || wv {
				g.weakTables = append(g.weakTables, weakTableRef{table: t, weakKey: wk, weakVal: wv})
			}
		}
	}
}

func containsByte(s string, b byte) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return true
		}
	}
	return false
}

// atomic implements spec.md §4.6 "Atomic phase" (non-incremental): mark
// the main thread if it is still white (a thread that is already gray or
// black is not traversed again here, and coroutine threads are not
// remarked), process weak/ephemeron tables to a fixed point, and
// invalidate the string-literal cache.
func (g *gcState) atomic() {
	if g.gs.mainThread != nil {
		g.markObject(g.gs.mainThread)
	}
	for _, o := range g.grayAgain {
		g.gray = append(g.gray, o)
	}
	g.grayAgain = g.grayAgain[:0]
	for len(g.gray) > 0 {
		n := g.gray[len(g.gray)-1]
		g.gray = g.gray[:len(g.gray)-1]
		g.propagateOne(n)
	}

	// Ephemeron fixed point: a key-value pair survives only while its key
	// is reachable from elsewhere (spec.md §4.6 "Ephemeron").
	changed := true
	for changed {
		changed = false
		for _, w := range g.weakTables {
			for i := range w.table.array {
				if !w.table.array[i].IsNil() {
					changed = g.reviveEphemeronEntry(w, IntValue(int64(i+1)), &w.table.array[i]) || changed
				}
			}
			for i := range w.table.hash {
				n := &w.table.hash[i]
				if n.key.IsNil() {
					continue
				}
				changed = g.reviveEphemeronEntry(w, n.key, &n.val) || changed
			}
		}
	}
	// Clear entries whose key didn't survive.
	for _, w := range g.weakTables {
		g.clearDeadEntries(w)
	}
	g.gs.literals.invalidateDead(g, g.gs.pinnedMemoryError.AsString())
}

func (g *gcState) reviveEphemeronEntry(w weakTableRef, key Value, val *Value) bool {
	keyAlive := !w.weakKey || !key.isCollectable() || !g.isWhite(key)
	if !keyAlive {
		return false
	}
	if val.isCollectable() && g.isWhite(*val) {
		g.markValue(*val)
		return true
	}
	return false
}

func (g *gcState) clearDeadEntries(w weakTableRef) {
	for i := range w.table.array {
		v := w.table.array[i]
		if v.IsNil() {
			continue
		}
		if (w.weakKey) || (w.weakVal && v.isCollectable() && g.isWhite(v)) {
			w.table.array[i] = Nil
		}
	}
	for i := range w.table.hash {
		n := &w.table.hash[i]
		if n.key.IsNil() {
			continue
		}
		keyDead := w.weakKey && n.key.isCollectable() && g.isWhite(n.key)
		valDead := w.weakVal && n.val.isCollectable() && g.isWhite(n.val)
		if keyDead || valDead {
			n.val = Nil
		}
	}
}

func (g *gcState) isWhite(v Value) bool {
	o := v.gcObj()
	if o == nil {
		return false
	}
	c := o.header().color
	return c == gcWhite0 || c == gcWhite1
}

// sweepStep walks the global list freeing dead (other-white) objects and
// repainting survivors to the current white (spec.md §4.6 "Sweep"). The
// white flip happens when the cycle ends, after sweep, so an unmarked
// object that already carries the current white survives this sweep and
// is reclaimed by the next cycle. Returns the remaining work-unit budget.
func (g *gcState) sweepStep(workUnits int) int {
	dead := g.otherWhite()
	var prev gcObject
	count := 0
	const sweepBatch = 40
	for g.sweepAt != nil && count < sweepBatch && workUnits > 0 {
		o := g.sweepAt
		h := o.header()
		next := h.next
		if h.color == dead {
			g.finalizeReclaim(o)
			if prev == nil {
				g.allHead = next
			} else {
				prev.header().next = next
			}
		} else {
			h.color = g.currentWhite
			prev = o
		}
		g.sweepAt = next
		count++
		workUnits--
	}
	return workUnits
}

func (g *gcState) finalizeReclaim(o gcObject) {
	if s, ok := o.(*stringObj); ok && s.isShort {
		g.gs.strings.remove(s)
	}
}

// callPendingFinalizers runs __gc finalizers queued in tobefnz, moving
// each object back onto allgc as spec.md §4.6 describes ("Finalization
// moves the object from finobj back into allgc"). Skipped entirely in
// emergency mode (spec.md §4.6 "Emergency mode").
func (g *gcState) callPendingFinalizers(emergency bool) {
	if emergency {
		return
	}
	for len(g.tobefnz) > 0 {
		o := g.tobefnz[len(g.tobefnz)-1]
		g.tobefnz = g.tobefnz[:len(g.tobefnz)-1]
		g.registerObject(o)
		g.runFinalizer(o)
	}
}

func (g *gcState) runFinalizer(o gcObject) {
	var v Value
	switch t := o.(type) {
	case *Table:
		v = TableValue(t)
	case *UserData:
		v = UserDataValue(t)
	default:
		return
	}
	fn := getMetamethodByName(g.gs, v, "__gc")
	if fn.IsNil() || !fn.IsFunction() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			// A raising finalizer is recovered here and its error is
			// discarded so the collector itself does not unwind; no
			// finalizer-error status reaches the host.
			_ = r
		}
	}()
	l := &State{th: g.gs.mainThread, gs: g.gs}
	l.push(v)
	l.Call(0, 0)
}

// fullCollect runs the collector to completion (spec.md §6.1
// `full-collect`), optionally in emergency mode (no finalizers, run on
// allocation failure per spec.md §4.1/§4.6).
func (g *gcState) fullCollect(emergency bool) {
	if g.phase == gcPhasePause {
		g.startCycle()
	}
	for g.phase != gcPhasePause {
		switch g.phase {
		case gcPhasePropagate:
			for len(g.gray) > 0 {
				n := g.gray[len(g.gray)-1]
				g.gray = g.gray[:len(g.gray)-1]
				g.propagateOne(n)
			}
			g.phase = gcPhaseAtomic
		case gcPhaseAtomic:
			g.atomic()
			g.phase = gcPhaseSweepAllGC
			g.sweepAt = g.allHead
		case gcPhaseSweepAllGC:
			for g.sweepAt != nil {
				g.sweepStep(1)
			}
			g.phase = gcPhaseSweepFinObj
		case gcPhaseSweepFinObj:
			g.phase = gcPhaseSweepToBeFnz
		case gcPhaseSweepToBeFnz:
			g.phase = gcPhaseCallFinalizers
		case gcPhaseCallFinalizers:
			g.callPendingFinalizers(emergency)
			g.phase = gcPhasePause
			g.currentWhite = g.otherWhite()
		}
	}
}

// accountAlloc implements the memory manager's debt bookkeeping (spec.md
// §4.1): "Every call updates GC-debt += new_size - old_size."
func (g *gcState) accountAlloc(oldSize, newSize int) {
	g.debt += int64(newSize - oldSize)
	g.gs.allocBytes += int64(newSize - oldSize)
	if g.running && g.debt > int64(g.stepMul) {
		g.step(int(g.debt / 16))
		g.debt = 0
	}
}

func (g *gcState) count() int64 { return g.gs.allocBytes }
