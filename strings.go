package lumen

// shortStringBound is the maximum length (inclusive, per spec.md §9 open
// question: "a short-string length field of exactly the short-length bound
// is valid") of a string stored in the intern table. Longer strings are
// allocated as standalone, un-interned long strings (spec.md §3.3).
const shortStringBound = 40

// stringObj is the runtime representation of both string variants
// described in spec.md §3.3. Short strings are interned (pointer equality
// decides string equality); long strings are not, and their hash is
// computed lazily.
type stringObj struct {
	gcHeader
	bytes    []byte
	hash     uint32
	hashDone bool // long strings: hash not yet computed
	isShort  bool
	reserved int8 // short strings only: reserved-word code for the lexer, -1 if none

	// hnext chains this string into its intern-table bucket. It is
	// deliberately separate from gcHeader.next (the collector's global
	// object list link) — the two lists this object belongs to move
	// independently, same as real Lua's TString.u.hnext vs. its
	// CommonHeader.next.
	hnext *stringObj
}

func (s *stringObj) traverse(gc *gcState) {}

func (s *stringObj) text() string { return string(s.bytes) }
func (s *stringObj) len() int     { return len(s.bytes) }

// newShortOrLongString allocates a standalone string object without
// touching any intern table. Used for error messages, and as the building
// block for the interning path below.
func newShortOrLongString(b []byte) *stringObj {
	s := &stringObj{bytes: append([]byte(nil), b...)}
	s.gcHeader.kind = objString
	s.isShort = len(b) <= shortStringBound
	if s.isShort {
		s.hash = fnv1a(b)
		s.hashDone = true
		s.reserved = -1
	}
	return s
}

// fnv1a hashes every byte, matching spec.md §4.3 "for short strings, every
// byte participates."
func fnv1a(b []byte) uint32 {
	const offset32 = 2166136261
	const prime32 = 16777619
	h := uint32(offset32)
	for _, c := range b {
		h ^= uint32(c)
		h *= prime32
	}
	return h
}

// hashLong implements spec.md §4.3's bounded long-string hash: "processed
// with a stride of (length >> 5) + 1 to bound hashing cost."
func hashLong(b []byte) uint32 {
	const prime32 = 16777619
	h := uint32(2166136261) ^ uint32(len(b))
	step := (len(b) >> 5) + 1
	for i := len(b) - 1; i >= 0; i -= step {
		h ^= (h << 5) + (h >> 2) + uint32(b[i])
		h *= prime32
	}
	return h
}

func (s *stringObj) ensureHash() uint32 {
	if !s.hashDone {
		s.hash = hashLong(s.bytes)
		s.hashDone = true
	}
	return s.hash
}

// stringEqual compares two string objects per spec.md §3.3: the same
// object is equal to itself; otherwise the bytes are compared. Interned
// short strings are unique per content, but newStringValue also builds
// un-interned short strings, so two short strings with distinct pointers
// are ruled unequal only when their hashes differ.
func stringEqual(a, b *stringObj) bool {
	if a == b {
		return true
	}
	if a.isShort && b.isShort && a.hash != b.hash {
		return false
	}
	return string(a.bytes) == string(b.bytes)
}

// ---- intern table (spec.md §4.3 "Creation") ----

// stringTable is the shared-state bucket table of interned short strings.
// Bucket chains are singly linked through stringObj.hnext.
type stringTable struct {
	buckets []*stringObj
	count   int
}

func newStringTable() *stringTable {
	return &stringTable{buckets: make([]*stringObj, 32)}
}

func (t *stringTable) bucketFor(hash uint32) int {
	return int(hash) & (len(t.buckets) - 1)
}

// intern returns the canonical *stringObj for bytes, allocating and
// linking a new one on first sight. Strings longer than shortStringBound
// are never interned (spec.md §8.3).
func (t *stringTable) intern(gc *gcState, b []byte) *stringObj {
	if len(b) > shortStringBound {
		s := newShortOrLongString(b)
		gc.registerObject(s)
		return s
	}
	hash := fnv1a(b)
	idx := t.bucketFor(hash)
	for cur := t.buckets[idx]; cur != nil; cur = cur.hnext {
		if cur.hash == hash && string(cur.bytes) == string(b) {
			// Resurrect if the collector marked it dead-but-not-yet-swept
			// (spec.md §4.3 "on hit, resurrect if the object was marked
			// dead").
			if gc != nil && cur.gcHeader.isDead(gc.otherWhite()) {
				cur.gcHeader.color = gc.currentWhite
			}
			return cur
		}
	}
	s := newShortOrLongString(b)
	s.hnext = t.buckets[idx]
	t.buckets[idx] = s
	t.count++
	if gc != nil {
		gc.registerObject(s)
	}
	if t.count >= len(t.buckets) {
		t.grow()
	}
	return s
}

// grow doubles the bucket array and rehashes every live entry in place,
// per spec.md §4.3 "grow the table (double) when #strings >= #buckets."
func (t *stringTable) grow() {
	old := t.buckets
	t.buckets = make([]*stringObj, len(old)*2)
	for _, head := range old {
		cur := head
		for cur != nil {
			next := cur.hnext
			idx := t.bucketFor(cur.hash)
			cur.hnext = t.buckets[idx]
			t.buckets[idx] = cur
			cur = next
		}
	}
}

// remove unlinks s from its bucket chain, called by the collector's sweep
// phase when it reclaims a short string (spec.md §4.3 "Removal").
func (t *stringTable) remove(s *stringObj) {
	idx := t.bucketFor(s.hash)
	var prev *stringObj
	for cur := t.buckets[idx]; cur != nil; {
		next := cur.hnext
		if cur == s {
			if prev == nil {
				t.buckets[idx] = next
			} else {
				prev.hnext = next
			}
			t.count--
			return
		}
		prev, cur = cur, next
	}
}

// ---- literal cache (spec.md §4.3 "Literal cache") ----

// literalCacheWays/Slots implement the default 53x2 two-way
// set-associative cache keyed by the literal's source pointer, used for
// "make string from host-supplied null-terminated literal" — in Go terms,
// interning the same constant-pool entry/Go string-literal across repeated
// calls without a full intern-table probe.
const (
	literalCacheBuckets = 53
	literalCacheWays    = 2
)

type literalCacheEntry struct {
	key uintptr
	str *stringObj
}

type literalCache struct {
	slots [literalCacheBuckets][literalCacheWays]literalCacheEntry
}

func newLiteralCache() *literalCache { return &literalCache{} }

func (c *literalCache) get(key uintptr) (*stringObj, bool) {
	b := key % literalCacheBuckets
	for w := 0; w < literalCacheWays; w++ {
		if c.slots[b][w].str != nil && c.slots[b][w].key == key {
			return c.slots[b][w].str, true
		}
	}
	return nil, false
}

func (c *literalCache) put(key uintptr, s *stringObj) {
	b := key % literalCacheBuckets
	// The entry in the last way is dropped, the others shift down one way
	// and the new entry takes way 0; this is a cache, not a correctness
	// structure.
	copy(c.slots[b][1:], c.slots[b][:literalCacheWays-1])
	c.slots[b][0] = literalCacheEntry{key: key, str: s}
}

// invalidateDead overwrites any cache slot whose string didn't survive the
// cycle with a pinned sentinel, per spec.md §4.3: "Cache slots that would
// be collected are overwritten with a pinned error string at the start of
// each atomic GC phase."
func (c *literalCache) invalidateDead(gc *gcState, pinned *stringObj) {
	for b := range c.slots {
		for w := range c.slots[b] {
			e := &c.slots[b][w]
			if e.str != nil && e.str.gcHeader.isDead(gc.otherWhite()) {
				e.str = pinned
			}
		}
	}
}
