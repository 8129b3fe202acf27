package lumen

// gcColor is the tri-color mark used by the incremental collector
// (spec.md §4.6). Two whites alternate through a flip bit ("other
// white"): sweep frees unmarked objects of the other white and keeps the
// rest, so objects painted with the current white, including those
// allocated during the cycle, are left for the next cycle; no second
// marking pass is needed (spec.md §4.6 "Algorithm").
type gcColor uint8

const (
	gcWhite0 gcColor = iota
	gcWhite1
	gcGray
	gcBlack
)

// objKind enumerates the collectable object shapes (spec.md §3.2). The
// collector's traversal switches on this alone, same as the annotated
// source.
type objKind uint8

const (
	objString objKind = iota
	objTable
	objClosure
	objUserData
	objThread
	objPrototype
	objUpvalue
)

// gcHeader is embedded at the front of every collectable object: a forward
// link into the global object list, the object's kind, and the color/age
// bits the collector needs (spec.md §3.2).
type gcHeader struct {
	next    gcObject
	kind    objKind
	color   gcColor
	isFinal bool // owes (or has run) a finalizer; placed in the finobj list
	marked  bool // "to be finalized" / reachable-through-finalizer bookkeeping
}

func (h *gcHeader) header() *gcHeader { return h }

// gcObject is implemented by every heap-managed value. traverse visits the
// object's outgoing references, marking white referents gray via gc.markValue
// / gc.markObject (spec.md §4.6 "Propagate").
type gcObject interface {
	header() *gcHeader
	traverse(gc *gcState)
}

func (h *gcHeader) isWhite(currentWhite gcColor) bool {
	return h.color == gcWhite0 || h.color == gcWhite1
}

func (h *gcHeader) isDead(otherWhite gcColor) bool {
	return h.color == otherWhite
}
