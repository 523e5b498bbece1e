// Package freespace is a stand-in for the shadow file's free-space
// manager, listed as an external collaborator in the coordination core's
// scope (alloc/free of page-aligned shadow-file ranges). It is not the
// real allocator a production shadow-file driver would ship — no
// persistence across sessions — but it is enough to drive the writer EOT
// engine end to end in tests.
//
// Allocation takes the smallest freed range that fits (best fit), falling
// back to a bump past the high-water mark when no freed range fits. Freed
// ranges are coalesced with adjacent free ranges.
package freespace

import (
	"errors"
	"fmt"
)

// ErrShadowFull is returned by [Manager.Alloc] when the shadow file's
// reserved pages are exhausted and no free range satisfies the request.
var ErrShadowFull = errors.New("freespace: shadow file is full")

type freeRange struct {
	offset uint32
	length uint32
}

// Manager allocates and frees page-aligned byte ranges within a shadow
// file, starting above the pages reserved for the header and index.
type Manager struct {
	pageSize   uint32
	highwater  uint32 // next never-yet-allocated page offset
	limitPages uint32 // total pages available (md_pages_reserved)
	free       []freeRange
}

// New returns a Manager governing pages [startPage, limitPages) of a
// shadow file whose page size is pageSize. startPage is the first page
// not reserved for the header/index; limitPages is the shadow file's
// total page count (md_pages_reserved).
func New(pageSize uint32, startPage, limitPages uint32) *Manager {
	return &Manager{
		pageSize:   pageSize,
		highwater:  startPage,
		limitPages: limitPages,
	}
}

// Alloc reserves a page-aligned range of at least length bytes and
// returns its byte offset within the shadow file.
func (m *Manager) Alloc(length uint32) (uint32, error) {
	pages := pagesFor(length, m.pageSize)

	if idx, ok := m.findFreeFit(pages); ok {
		fr := m.free[idx]
		m.free = append(m.free[:idx], m.free[idx+1:]...)

		if fr.length > pages {
			m.free = append(m.free, freeRange{
				offset: fr.offset + pages,
				length: fr.length - pages,
			})
		}

		return fr.offset * m.pageSize, nil
	}

	if m.highwater+pages > m.limitPages {
		return 0, fmt.Errorf("%w: need %d pages, have %d of %d free", ErrShadowFull, pages, m.limitPages-m.highwater, m.limitPages)
	}

	offset := m.highwater
	m.highwater += pages

	return offset * m.pageSize, nil
}

// Free returns a previously allocated range to the manager, coalescing
// it with adjacent free ranges when possible.
func (m *Manager) Free(offset, length uint32) error {
	if offset%m.pageSize != 0 {
		return fmt.Errorf("freespace: offset %d is not page-aligned to %d", offset, m.pageSize)
	}

	startPage := offset / m.pageSize
	pages := pagesFor(length, m.pageSize)

	m.free = append(m.free, freeRange{offset: startPage, length: pages})
	m.coalesce()

	return nil
}

// Capacity reports total and in-use page counts, for diagnostics.
func (m *Manager) Capacity() (totalPages, usedPages uint32) {
	var freePages uint32
	for _, fr := range m.free {
		freePages += fr.length
	}

	return m.limitPages, m.highwater - freePages
}

func (m *Manager) findFreeFit(pages uint32) (int, bool) {
	best := -1

	for i, fr := range m.free {
		if fr.length < pages {
			continue
		}

		if best == -1 || fr.length < m.free[best].length {
			best = i
		}
	}

	if best == -1 {
		return 0, false
	}

	return best, true
}

func (m *Manager) coalesce() {
	if len(m.free) < 2 {
		return
	}

	for i := 0; i < len(m.free); i++ {
		for j := i + 1; j < len(m.free); j++ {
			a, b := m.free[i], m.free[j]

			if a.offset+a.length == b.offset {
				m.free[i].length += b.length
				m.free = append(m.free[:j], m.free[j+1:]...)
				j--
			} else if b.offset+b.length == a.offset {
				m.free[i].offset = b.offset
				m.free[i].length += b.length
				m.free = append(m.free[:j], m.free[j+1:]...)
				j--
			}
		}
	}
}

func pagesFor(length, pageSize uint32) uint32 {
	if length == 0 {
		return 1
	}

	return (length + pageSize - 1) / pageSize
}

// PagesFor reports how many page-aligned pages of size pageSize are
// needed to hold length bytes (minimum one page), exported so callers
// that allocate through a Manager can size their own bookkeeping (e.g.
// the writer EOT engine's on-disk index range) without duplicating the
// rounding rule.
func PagesFor(length, pageSize uint32) uint32 {
	return pagesFor(length, pageSize)
}
