package eot

import "github.com/shadowtick/swmr/shadowindex"

// MayPublish implements the delay predicate: given the writer's
// current index mirror, decides whether a freshly-dirty metadata page may
// be published now or must wait.
//
//   - page not in the current index: until = currentTick + maxLag (a
//     lagging reader may still be looking at the on-disk bytes it would
//     replace).
//   - page in the index with DelayedFlush >= currentTick: until = DelayedFlush.
//   - otherwise: until = 0, meaning publish immediately.
//
// A nil mirror (no EndOfTick has run yet) is treated the same as "page not
// in the current index".
func MayPublish(mirror *shadowindex.Mirror, page uint32, currentTick, maxLag uint64) (until uint64, err error) {
	until = mayPublish(mirror, page, currentTick, maxLag)

	if until != 0 && (until < currentTick || until > currentTick+maxLag) {
		return until, raiseInvariant(DelayOutOfRange,
			"may_publish returned a value outside [current_tick, current_tick+max_lag]")
	}

	return until, nil
}

func mayPublish(mirror *shadowindex.Mirror, page uint32, currentTick, maxLag uint64) uint64 {
	if mirror == nil {
		return currentTick + maxLag
	}

	entry, ok := mirror.Lookup(page)
	if !ok {
		return currentTick + maxLag
	}

	if entry.DelayedFlush >= currentTick {
		return entry.DelayedFlush
	}

	return 0
}
