package soft

import (
	"sync/atomic"

	"github.com/gekko3d/particles/gpu"
)

// Counters is the counter block. All fields are updated with atomics by
// concurrently running workgroups.
type Counters struct {
	DeadTop       atomic.Int32
	AliveIn       atomic.Uint32
	AliveOut      atomic.Uint32
	EmitRequested atomic.Uint32
}

// Load copies the block into its wire form.
func (c *Counters) Load() gpu.Counters {
	return gpu.Counters{
		DeadTop:       c.DeadTop.Load(),
		AliveCountIn:  c.AliveIn.Load(),
		AliveCountOut: c.AliveOut.Load(),
		EmitRequested: c.EmitRequested.Load(),
	}
}

func (c *Counters) reset(capacity uint32) {
	c.DeadTop.Store(int32(capacity))
	c.AliveIn.Store(0)
	c.AliveOut.Store(0)
	c.EmitRequested.Store(0)
}

// FreeList is a stack of unused slot ids whose top lives in the counter block.
// Pops and pushes never run in the same pass.
type FreeList struct {
	ids []uint32
	top *atomic.Int32
}

func NewFreeList(capacity uint32, top *atomic.Int32) *FreeList {
	f := &FreeList{ids: make([]uint32, capacity), top: top}
	f.Reset()
	return f
}

// Reset puts every slot id back on the stack.
func (f *FreeList) Reset() {
	for i := range f.ids {
		f.ids[i] = uint32(i)
	}
	f.top.Store(int32(len(f.ids)))
}

// Pop claims one slot. It returns false when the list is exhausted.
func (f *FreeList) Pop() (uint32, bool) {
	prev := f.top.Add(-1) + 1
	if prev <= 0 {
		f.top.Add(1)
		return 0, false
	}
	return f.ids[prev-1], true
}

// Push returns a slot to the list.
func (f *FreeList) Push(id uint32) {
	top := f.top.Add(1) - 1
	f.ids[top] = id
}

func (f *FreeList) Len() int {
	return int(max(f.top.Load(), 0))
}

// Snapshot copies the ids currently on the stack.
func (f *FreeList) Snapshot() []uint32 {
	out := make([]uint32, f.Len())
	copy(out, f.ids)
	return out
}

// AliveList is one alive-index buffer. Its population is tracked by
// whichever counter matches its current role.
type AliveList struct {
	ids []uint32
}

func NewAliveList(capacity uint32) *AliveList {
	return &AliveList{ids: make([]uint32, capacity)}
}

// Append stores id at the index reserved from n.
func (a *AliveList) Append(n *atomic.Uint32, id uint32) {
	i := n.Add(1) - 1
	a.ids[i] = id
}

func (a *AliveList) At(i uint32) uint32 { return a.ids[i] }

// Snapshot copies the first n ids.
func (a *AliveList) Snapshot(n uint32) []uint32 {
	n = min(n, uint32(len(a.ids)))
	out := make([]uint32, n)
	copy(out, a.ids[:n])
	return out
}
