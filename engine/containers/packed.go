package containers

import (
	"fmt"

	"github.com/spaghettifunk/anima-rhi/engine/core"
)

// ElementID is the opaque external handle of a packed element. The lower 16 bits
// select an indirection slot, the upper 16 bits are a generation counter bumped
// every time the slot is reused, so stale handles are detected.
type ElementID uint32

const (
	InvalidElementID ElementID = 0

	IndexMask      uint32 = 0xFFFF
	NewObjectIDAdd uint32 = 0x10000
	// MaxElements is the largest capacity a manager can have.
	MaxElements uint32 = 0xFFFF

	invalidIndex uint32 = 0xFFFFFFFF
)

// Element is implemented by everything stored in a PackedElementManager.
type Element interface {
	// InitializeElement is called right after the element got its id.
	InitializeElement(id ElementID)
	// DeinitializeElement is called right before the element is removed.
	DeinitializeElement()
}

type index struct {
	id    ElementID
	index uint32
	next  uint32
}

/**
 * @brief PackedElementManager stores elements in a dense array and hands out stable ids
 * through an indirection table. Removal swaps the last element into the hole so
 * iteration over [0, NumberOfElements) never visits gaps. The capacity is fixed
 * at construction, the backing arrays never reallocate.
 * Not safe for concurrent use, owners guard it with their own lock.
 */
type PackedElementManager[T Element] struct {
	elements         []T
	elementIDs       []ElementID
	indices          []index
	numberOfElements uint32
	numberOfFree     uint32
	freeListEnqueue  uint32
	freeListDequeue  uint32
}

func NewPackedElementManager[T Element](capacity uint32) (*PackedElementManager[T], error) {
	if capacity == 0 || capacity > MaxElements {
		return nil, fmt.Errorf("packed element manager capacity %d not in [1, %d]: %w", capacity, MaxElements, core.ErrCapacityExceeded)
	}
	pm := &PackedElementManager[T]{
		elements:        make([]T, capacity),
		elementIDs:      make([]ElementID, capacity),
		indices:         make([]index, capacity),
		numberOfFree:    capacity,
		freeListDequeue: 0,
		freeListEnqueue: capacity - 1,
	}
	for i := uint32(0); i < capacity; i++ {
		pm.indices[i] = index{
			id:    ElementID(i),
			index: invalidIndex,
			next:  i + 1,
		}
	}
	return pm, nil
}

// AddElement places element at the end of the dense array and returns it once its
// InitializeElement hook ran with the new id.
func (pm *PackedElementManager[T]) AddElement(element T) (T, error) {
	if pm.numberOfFree == 0 {
		var zero T
		return zero, fmt.Errorf("packed element manager is full (%d elements): %w", len(pm.elements), core.ErrCapacityExceeded)
	}
	slot := pm.freeListDequeue
	in := &pm.indices[slot]
	pm.freeListDequeue = in.next
	pm.numberOfFree--

	in.id = ElementID(uint32(in.id) + NewObjectIDAdd)
	// generation 0 is never handed out, slot 0 would collide with InvalidElementID
	if uint32(in.id)&^IndexMask == 0 {
		in.id += ElementID(NewObjectIDAdd)
	}
	in.index = pm.numberOfElements
	pm.elements[in.index] = element
	pm.elementIDs[in.index] = in.id
	pm.numberOfElements++

	element.InitializeElement(in.id)
	return element, nil
}

// RemoveElement runs the DeinitializeElement hook and moves the last element into the freed slot.
func (pm *PackedElementManager[T]) RemoveElement(id ElementID) error {
	if !pm.IsElementIDValid(id) {
		return fmt.Errorf("remove element %#x: %w", uint32(id), core.ErrInvalidElementID)
	}
	slot := uint32(id) & IndexMask
	in := &pm.indices[slot]
	pm.elements[in.index].DeinitializeElement()

	last := pm.numberOfElements - 1
	if in.index != last {
		pm.elements[in.index] = pm.elements[last]
		pm.elementIDs[in.index] = pm.elementIDs[last]
		pm.indices[uint32(pm.elementIDs[in.index])&IndexMask].index = in.index
	}
	var zero T
	pm.elements[last] = zero
	pm.elementIDs[last] = InvalidElementID
	pm.numberOfElements--
	in.index = invalidIndex

	if pm.numberOfFree == 0 {
		pm.freeListDequeue = slot
	} else {
		pm.indices[pm.freeListEnqueue].next = slot
	}
	pm.freeListEnqueue = slot
	pm.numberOfFree++
	return nil
}

func (pm *PackedElementManager[T]) IsElementIDValid(id ElementID) bool {
	slot := uint32(id) & IndexMask
	if slot >= uint32(len(pm.indices)) {
		return false
	}
	in := pm.indices[slot]
	return in.id == id && in.index != invalidIndex
}

// GetElementByID returns the element for id and panics on a stale or unknown id.
// Use TryGetElementByID when the id may legitimately be gone.
func (pm *PackedElementManager[T]) GetElementByID(id ElementID) T {
	element, ok := pm.TryGetElementByID(id)
	if !ok {
		panic(fmt.Sprintf("packed element manager: invalid element id %#x", uint32(id)))
	}
	return element
}

func (pm *PackedElementManager[T]) TryGetElementByID(id ElementID) (T, bool) {
	if !pm.IsElementIDValid(id) {
		var zero T
		return zero, false
	}
	return pm.elements[pm.indices[uint32(id)&IndexMask].index], true
}

func (pm *PackedElementManager[T]) NumberOfElements() uint32 {
	return pm.numberOfElements
}

func (pm *PackedElementManager[T]) Capacity() uint32 {
	return uint32(len(pm.elements))
}

// ElementByIndex returns the element at the dense array position i, i < NumberOfElements.
func (pm *PackedElementManager[T]) ElementByIndex(i uint32) T {
	if i >= pm.numberOfElements {
		panic(fmt.Sprintf("packed element manager: index %d out of range [0, %d)", i, pm.numberOfElements))
	}
	return pm.elements[i]
}

// ElementIDByIndex returns the id of the element at dense position i.
func (pm *PackedElementManager[T]) ElementIDByIndex(i uint32) ElementID {
	if i >= pm.numberOfElements {
		return InvalidElementID
	}
	return pm.elementIDs[i]
}

// Clear removes every element, last to first.
func (pm *PackedElementManager[T]) Clear() {
	for pm.numberOfElements > 0 {
		_ = pm.RemoveElement(pm.elementIDs[pm.numberOfElements-1])
	}
}
