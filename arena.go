package isolate

import "github.com/icyseptember2237/isolate/backend"

const defaultBlockSize = 256

// slot is the storage a handle points at. Slots live in fixed blocks so
// their addresses survive arena growth.
type slot struct {
	iso     *Isolate
	value   backend.Value
	counted bool
	// index is the arena position, -1 for literals.
	index int
}

// arena hands out slots in allocation order and releases them by range.
type arena struct {
	iso       *Isolate
	blocks    [][]slot
	blockSize int
	pos       int
}

func newArena(iso *Isolate, blockSize int) arena {
	if blockSize <= 0 {
		blockSize = defaultBlockSize
	}
	return arena{iso: iso, blockSize: blockSize}
}

func (a *arena) at(i int) *slot {
	return &a.blocks[i/a.blockSize][i%a.blockSize]
}

func (a *arena) capacity() int {
	return len(a.blocks) * a.blockSize
}

// alloc stores v in the next slot, taking a reference when the backend
// counts v.
func (a *arena) alloc(v backend.Value) *slot {
	if a.pos == a.capacity() {
		a.blocks = append(a.blocks, make([]slot, a.blockSize))
	}
	s := a.at(a.pos)
	s.iso = a.iso
	s.index = a.pos
	s.value = v
	s.counted = a.iso.rt.IsRefCounted(v)
	if s.counted {
		a.iso.rt.Retain(v)
	}
	a.pos++
	return s
}

func (a *arena) release(s *slot) {
	if s.counted {
		a.iso.rt.Release(s.value)
	}
	s.value = nil
	s.counted = false
}

// releaseRange releases [from, to) except the slots in keep, then moves the
// cursor to from or just past the highest kept slot.
func (a *arena) releaseRange(from, to int, keep map[*slot]struct{}) {
	top := from
	for i := from; i < to; i++ {
		s := a.at(i)
		if _, ok := keep[s]; ok {
			top = i + 1
			continue
		}
		a.release(s)
	}
	a.pos = top
}
