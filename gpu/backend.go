package gpu

import (
	"errors"
	"fmt"
	"image"
)

var (
	// ErrInvalidCapacity is returned by Init when the pool capacity is zero.
	ErrInvalidCapacity = errors.New("gpu: particle capacity must be positive")
	// ErrBackendNotAvailable is returned when no backend is registered under a name.
	ErrBackendNotAvailable = errors.New("gpu: backend not available")
	// ErrNotInitialized is returned by operations that need the leaf resources.
	ErrNotInitialized = errors.New("gpu: backend not initialized")
)

// AliveSet names one of the two alive-index buffers.
type AliveSet uint8

const (
	SetA AliveSet = iota
	SetB
)

func (s AliveSet) Other() AliveSet {
	if s == SetA {
		return SetB
	}
	return SetA
}

func (s AliveSet) String() string {
	if s == SetA {
		return "A"
	}
	return "B"
}

// Resource identifies a leaf resource for barrier purposes.
type Resource uint8

const (
	ResourcePool Resource = iota
	ResourceFreeList
	ResourceAliveA
	ResourceAliveB
	ResourceCounters
	ResourceDrawArgs
)

// AliveResource maps an alive set to its barrier resource.
func AliveResource(s AliveSet) Resource {
	if s == SetA {
		return ResourceAliveA
	}
	return ResourceAliveB
}

// DepthBuffer is a scene depth target the update pass may collide against.
// Each backend accepts its own concrete implementation.
type DepthBuffer interface {
	Size() (width, height uint32)
}

// Texture is a sprite texture uploaded to a backend.
type Texture interface {
	Size() (width, height uint32)
	Release()
}

// Logger is the subset of the engine logger used by backends.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// Backend owns the leaf resources of the particle engine on one accelerator.
type Backend interface {
	Name() string
	// Init allocates the pool, free list, both alive sets, the counter block
	// and the indirect args, and puts them in the initial state.
	Init(capacity uint32) error
	Capacity() uint32
	// Reset returns every slot to the free list and zeroes the counters.
	Reset() error
	// BeginFrame starts recording a new command stream.
	BeginFrame(consts *SystemConstants) (Frame, error)
	UploadTexture(img image.Image, label string) (Texture, error)
	// Release frees all resources. It is safe to call more than once.
	Release()
}

// Frame records the passes of one frame in submission order.
type Frame interface {
	// Emit claims params.EmitCount slots from the free list and appends them to target.
	Emit(target AliveSet, params *EmitterParams) error
	// Update simulates every particle of in, appending survivors to in.Other()
	// and returning expired slots to the free list.
	Update(in AliveSet, params *UpdateParams, depth DepthBuffer) error
	// BuildArgs writes the indirect draw args and rolls the counters.
	BuildArgs() error
	// Draw issues one indirect draw over current.
	Draw(current AliveSet, params *RenderParams, tex Texture) error
	// Barrier makes writes to the given resources visible to later passes.
	Barrier(resources ...Resource)
	Submit() error
	// Discard drops a frame that will not be submitted. It is a no-op after
	// Submit or a previous Discard.
	Discard()
}

// DrawReserver is implemented by backends with a bounded number of emit and
// draw calls per frame. The host reserves room for every emitter before
// BeginFrame.
type DrawReserver interface {
	ReserveDraws(n int) error
}

// CounterReader exposes the most recently read back counter block.
// Values lag the GPU by at least one frame.
type CounterReader interface {
	LastCounters() (Counters, bool)
}

// Inspector reads the full allocator state back to the host. Debugging and tests only.
type Inspector interface {
	Snapshot(current AliveSet) (*Snapshot, error)
}

// Snapshot is a host copy of the allocator state at a pass boundary.
type Snapshot struct {
	Capacity uint32
	Counters Counters
	DrawArgs DrawIndirectArgs
	Free     []uint32
	Current  []uint32
	Next     []uint32
}

// Validate checks that every slot id is in exactly one of the free list,
// the current alive set and the next alive set.
func (s *Snapshot) Validate() error {
	total := len(s.Free) + len(s.Current) + len(s.Next)
	if uint32(total) != s.Capacity {
		return fmt.Errorf("conservation violated: free=%d current=%d next=%d capacity=%d",
			len(s.Free), len(s.Current), len(s.Next), s.Capacity)
	}
	seen := make([]uint8, s.Capacity)
	check := func(name string, ids []uint32) error {
		for _, id := range ids {
			if id >= s.Capacity {
				return fmt.Errorf("%s holds out-of-range slot %d", name, id)
			}
			if seen[id] != 0 {
				return fmt.Errorf("slot %d appears more than once (last in %s)", id, name)
			}
			seen[id] = 1
		}
		return nil
	}
	if err := check("free list", s.Free); err != nil {
		return err
	}
	if err := check("current set", s.Current); err != nil {
		return err
	}
	return check("next set", s.Next)
}

// Alive is the number of live particles in the snapshot.
func (s *Snapshot) Alive() int {
	return len(s.Current) + len(s.Next)
}
