// Package mdcache is a stand-in for the metadata cache, an external
// collaborator per the coordination core's scope: it is reflushed by the
// writer EOT engine and is asked to evict-or-refresh entries belonging
// to a changed or removed page by the reader EOT engine.
//
// Like internal/pagebuffer, this is bookkeeping only — there is no real
// cached metadata content — sufficient to let eot package tests assert
// on call order and argument sets.
package mdcache

// Cache records reflush and evict-or-refresh calls made against it by
// the writer and reader EOT engines.
//
// Not safe for concurrent use; see [github.com/shadowtick/swmr/internal/pagebuffer.Buffer]
// for the same discipline.
type Cache struct {
	reflushes          int
	evictedOrRefreshed []uint32
}

// New returns an empty metadata cache.
func New() *Cache {
	return &Cache{}
}

// Reflush re-flushes the metadata cache so any entries dirtied by the
// first flush pass reach the page buffer's tick list before the writer
// engine reads it.
func (c *Cache) Reflush() error {
	c.reflushes++

	return nil
}

// ReflushCount reports how many times Reflush has been called.
func (c *Cache) ReflushCount() int {
	return c.reflushes
}

// EvictOrRefresh evicts or refreshes every metadata entry within a
// changed or removed data page. The fake has no
// entries to walk, so this only records which pages were asked about.
func (c *Cache) EvictOrRefresh(page uint32) error {
	c.evictedOrRefreshed = append(c.evictedOrRefreshed, page)

	return nil
}

// EvictedOrRefreshed returns every page passed to EvictOrRefresh, in
// call order.
func (c *Cache) EvictedOrRefreshed() []uint32 {
	return c.evictedOrRefreshed
}
