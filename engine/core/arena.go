package core

import (
	"fmt"
	"sync"
)

// Handle names a slot in an Arena. T is a tag type that keeps handles of
// different resource kinds from being mixed up; the zero Handle is nil.
type Handle[T any] struct {
	index      uint32
	generation uint32
}

func (h Handle[T]) IsNil() bool {
	return h.generation == 0
}

func (h Handle[T]) Index() uint32 {
	return h.index
}

func (h Handle[T]) Generation() uint32 {
	return h.generation
}

func (h Handle[T]) String() string {
	if h.IsNil() {
		return "handle(nil)"
	}
	return fmt.Sprintf("handle(%d#%d)", h.index, h.generation)
}

type arenaSlot[V any] struct {
	value      V
	generation uint32
	occupied   bool
}

// Arena stores values in reusable slots. Removing a value bumps the slot's
// generation, so any handle still pointing at it stops resolving instead of
// aliasing whatever is stored there next.
type Arena[T any, V any] struct {
	mu    sync.RWMutex
	slots []arenaSlot[V]
	free  []uint32
	live  int
}

func NewArena[T any, V any]() *Arena[T, V] {
	return &Arena[T, V]{}
}

func (a *Arena[T, V]) Insert(value V) Handle[T] {
	a.mu.Lock()
	defer a.mu.Unlock()

	var index uint32
	if n := len(a.free); n > 0 {
		// Existing free spot. Take it.
		index = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		// No free slots, push a new one.
		a.slots = append(a.slots, arenaSlot[V]{generation: 1})
		index = uint32(len(a.slots) - 1)
	}
	slot := &a.slots[index]
	slot.value = value
	slot.occupied = true
	a.live++
	return Handle[T]{index: index, generation: slot.generation}
}

func (a *Arena[T, V]) Get(h Handle[T]) (V, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var zero V
	slot, ok := a.slot(h)
	if !ok {
		return zero, false
	}
	return slot.value, true
}

func (a *Arena[T, V]) Contains(h Handle[T]) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	_, ok := a.slot(h)
	return ok
}

// Remove releases the slot and returns the value it held. A second Remove
// with the same handle reports false.
func (a *Arena[T, V]) Remove(h Handle[T]) (V, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var zero V
	slot, ok := a.slot(h)
	if !ok {
		return zero, false
	}
	value := slot.value
	a.release(h.index)
	return value, true
}

// Clear releases every live slot, invalidating all outstanding handles.
func (a *Arena[T, V]) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.slots {
		if a.slots[i].occupied {
			a.release(uint32(i))
		}
	}
}

func (a *Arena[T, V]) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.live
}

// Each calls fn for every live value. fn must not modify the arena.
func (a *Arena[T, V]) Each(fn func(Handle[T], V)) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for i := range a.slots {
		if a.slots[i].occupied {
			fn(Handle[T]{index: uint32(i), generation: a.slots[i].generation}, a.slots[i].value)
		}
	}
}

func (a *Arena[T, V]) slot(h Handle[T]) (*arenaSlot[V], bool) {
	if h.IsNil() || int(h.index) >= len(a.slots) {
		return nil, false
	}
	slot := &a.slots[h.index]
	if !slot.occupied || slot.generation != h.generation {
		return nil, false
	}
	return slot, true
}

func (a *Arena[T, V]) release(index uint32) {
	var zero V
	slot := &a.slots[index]
	slot.value = zero
	slot.occupied = false
	slot.generation++
	if slot.generation == 0 {
		slot.generation = 1
	}
	a.free = append(a.free, index)
	a.live--
}
