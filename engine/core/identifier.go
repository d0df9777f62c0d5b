package core

import (
	"fmt"
	"sort"
)

// idRange is an inclusive range of free ids.
type idRange struct {
	first uint32
	last  uint32
}

func (r idRange) size() uint64 {
	return uint64(r.last) - uint64(r.first) + 1
}

/**
 * @brief MakeID hands out compact ids from the bounded universe [0, maxID].
 * Free ids are kept as a sorted list of disjoint, non-adjacent ranges, so allocation
 * of the smallest id is O(1) and destruction is a binary search plus a merge.
 * MakeID is not safe for concurrent use.
 */
type MakeID struct {
	ranges []idRange
	maxID  uint32
}

// NewMakeID creates an allocator covering the ids 0..maxID inclusive.
func NewMakeID(maxID uint32) *MakeID {
	return &MakeID{
		ranges: []idRange{{first: 0, last: maxID}},
		maxID:  maxID,
	}
}

// CreateID returns the smallest free id.
func (m *MakeID) CreateID() (uint32, error) {
	if len(m.ranges) == 0 {
		return 0, ErrIDsExhausted
	}
	id := m.ranges[0].first
	if m.ranges[0].first == m.ranges[0].last {
		m.ranges = m.ranges[1:]
	} else {
		m.ranges[0].first++
	}
	return id, nil
}

// CreateRangeID returns the first id of the lowest run of count contiguous free ids.
func (m *MakeID) CreateRangeID(count uint32) (uint32, error) {
	if count == 0 {
		return 0, fmt.Errorf("create range of 0 ids: %w", ErrInvalidID)
	}
	for i := range m.ranges {
		size := m.ranges[i].size()
		if uint64(count) > size {
			continue
		}
		id := m.ranges[i].first
		if uint64(count) == size {
			m.ranges = append(m.ranges[:i], m.ranges[i+1:]...)
		} else {
			m.ranges[i].first += count
		}
		return id, nil
	}
	return 0, ErrIDsExhausted
}

func (m *MakeID) DestroyID(id uint32) error {
	return m.DestroyRangeID(id, 1)
}

// DestroyRangeID returns id..id+count-1 to the free pool. Destroying an id that is
// already free, or outside the universe, fails and leaves the allocator untouched.
func (m *MakeID) DestroyRangeID(id, count uint32) error {
	if count == 0 {
		return fmt.Errorf("destroy range of 0 ids: %w", ErrInvalidID)
	}
	end := id + count - 1
	if end < id || end > m.maxID {
		return fmt.Errorf("range [%d, %d] outside of [0, %d]: %w", id, uint64(id)+uint64(count)-1, m.maxID, ErrInvalidID)
	}

	// first free range starting after id
	i := sort.Search(len(m.ranges), func(i int) bool {
		return m.ranges[i].first > id
	})

	if i > 0 && m.ranges[i-1].last >= id {
		return fmt.Errorf("id %d is not allocated: %w", id, ErrInvalidID)
	}
	if i < len(m.ranges) && m.ranges[i].first <= end {
		return fmt.Errorf("id %d is not allocated: %w", m.ranges[i].first, ErrInvalidID)
	}

	mergeLeft := i > 0 && m.ranges[i-1].last+1 == id
	mergeRight := i < len(m.ranges) && end+1 == m.ranges[i].first

	switch {
	case mergeLeft && mergeRight:
		m.ranges[i-1].last = m.ranges[i].last
		m.ranges = append(m.ranges[:i], m.ranges[i+1:]...)
	case mergeLeft:
		m.ranges[i-1].last = end
	case mergeRight:
		m.ranges[i].first = id
	default:
		m.ranges = append(m.ranges, idRange{})
		copy(m.ranges[i+1:], m.ranges[i:])
		m.ranges[i] = idRange{first: id, last: end}
	}
	return nil
}

// IsID reports whether id is currently allocated.
func (m *MakeID) IsID(id uint32) bool {
	if id > m.maxID {
		return false
	}
	i := sort.Search(len(m.ranges), func(i int) bool {
		return m.ranges[i].last >= id
	})
	return i == len(m.ranges) || m.ranges[i].first > id
}

// AvailableIDs is the total number of free ids.
func (m *MakeID) AvailableIDs() uint64 {
	var count uint64
	for _, r := range m.ranges {
		count += r.size()
	}
	return count
}

// LargestContinuousRange is the size of the biggest run of free ids.
func (m *MakeID) LargestContinuousRange() uint64 {
	var largest uint64
	for _, r := range m.ranges {
		if s := r.size(); s > largest {
			largest = s
		}
	}
	return largest
}

func (m *MakeID) MaxID() uint32 {
	return m.maxID
}
