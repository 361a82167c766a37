package gpucore

import (
	"fmt"
	"iter"
)

// Kind tags a Handle with the resource type it refers to.
// The method set is unexported so only this package defines kinds.
type Kind interface {
	kindName() string
}

// Resource kinds.
type (
	// BufferKind tags buffer handles.
	BufferKind struct{}

	// TextureKind tags texture handles.
	TextureKind struct{}

	// SamplerKind tags sampler handles.
	SamplerKind struct{}

	// KernelKind tags compiled compute kernel handles.
	KernelKind struct{}
)

func (BufferKind) kindName() string  { return "Buffer" }
func (TextureKind) kindName() string { return "Texture" }
func (SamplerKind) kindName() string { return "Sampler" }
func (KernelKind) kindName() string  { return "Kernel" }

// Handle is a generational index into an Arena.
// The zero value is the invalid handle.
type Handle[K Kind] struct {
	index uint32
	gen   uint32
}

// Typed handle aliases used throughout the pipeline.
type (
	Buffer  = Handle[BufferKind]
	Texture = Handle[TextureKind]
	Sampler = Handle[SamplerKind]
	Kernel  = Handle[KernelKind]
)

// IsValid reports whether h was produced by an Arena.
// A valid handle may still be stale if its resource was destroyed.
func (h Handle[K]) IsValid() bool { return h.gen != 0 }

// Index returns the arena slot of h.
func (h Handle[K]) Index() uint32 { return h.index }

// Generation returns the slot generation h was issued for.
func (h Handle[K]) Generation() uint32 { return h.gen }

// String returns a debug representation such as "Buffer(3:1)".
func (h Handle[K]) String() string {
	var k K
	if !h.IsValid() {
		return k.kindName() + "(nil)"
	}
	return fmt.Sprintf("%s(%d:%d)", k.kindName(), h.index, h.gen)
}

type slot[V any] struct {
	value V
	gen   uint32
	used  bool
}

// Arena stores values addressed by generational handles of kind K.
// Removed slots are recycled with a bumped generation.
//
// Arena is not safe for concurrent use; backends guard it with their own lock.
type Arena[K Kind, V any] struct {
	slots []slot[V]
	free  []uint32
	live  int
}

// Insert stores v and returns its handle.
func (a *Arena[K, V]) Insert(v V) Handle[K] {
	a.live++
	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		s := &a.slots[idx]
		s.value = v
		s.used = true
		return Handle[K]{index: idx, gen: s.gen}
	}
	a.slots = append(a.slots, slot[V]{value: v, gen: 1, used: true})
	return Handle[K]{index: uint32(len(a.slots) - 1), gen: 1}
}

// Get returns the value for h. It returns false for invalid or stale handles.
func (a *Arena[K, V]) Get(h Handle[K]) (V, bool) {
	var zero V
	if !h.IsValid() || int(h.index) >= len(a.slots) {
		return zero, false
	}
	s := &a.slots[h.index]
	if !s.used || s.gen != h.gen {
		return zero, false
	}
	return s.value, true
}

// Remove deletes the value for h and returns it.
// Every copy of h becomes stale.
func (a *Arena[K, V]) Remove(h Handle[K]) (V, bool) {
	v, ok := a.Get(h)
	if !ok {
		return v, false
	}
	s := &a.slots[h.index]
	var zero V
	s.value = zero
	s.used = false
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	a.free = append(a.free, h.index)
	a.live--
	return v, true
}

// Len returns the number of live values.
func (a *Arena[K, V]) Len() int { return a.live }

// All iterates over live handles and values in slot order.
func (a *Arena[K, V]) All() iter.Seq2[Handle[K], V] {
	return func(yield func(Handle[K], V) bool) {
		for i := range a.slots {
			s := &a.slots[i]
			if !s.used {
				continue
			}
			if !yield(Handle[K]{index: uint32(i), gen: s.gen}, s.value) {
				return
			}
		}
	}
}
