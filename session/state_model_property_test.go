// Behavioral correctness: deterministic seeded testing
//
// Oracle: an in-memory model of what the published index must contain
// and which pages a polling reader must have been told to evict.
// Technique: deterministic pseudo-random sequences (seeded PRNG).
//
// Each seed generates a deterministic writer/reader interleaving, making
// failures easy to reproduce without fuzzer corpus files.
//
// Failures here mean: "the published index or the reader's invalidation
// set diverged from the protocol".

package session

import (
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shadowtick/swmr/codec"
	"github.com/shadowtick/swmr/internal/clock"
	"github.com/shadowtick/swmr/internal/freespace"
	"github.com/shadowtick/swmr/internal/mdcache"
	"github.com/shadowtick/swmr/internal/pagebuffer"
)

// publishedPage is the model's view of one index entry: the image
// checksum the index must carry for the page, and the writer tick at
// which the page was last republished (used to derive the reader's
// expected eviction set — a page republished after the reader's last
// poll, and present in its previous view, must be evicted as changed).
type publishedPage struct {
	checksum      uint32
	lastPublished uint64
}

func Test_Reader_View_Matches_Writer_Model_When_Random_Ticks_Interleaved(t *testing.T) {
	seedCount := 25
	if testing.Short() {
		seedCount = 5
	}

	const (
		pageSize        = 512
		mdPagesReserved = 512
		maxLag          = 3
		maxPage         = 32
		steps           = 40
	)

	for seedIndex := range seedCount {
		seed := uint64(seedIndex + 1)

		t.Run(fmt.Sprintf("seed=%d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewPCG(seed, seed))

			path := filepath.Join(t.TempDir(), "shadow.dat")

			pb := pagebuffer.New()
			wOpts := Options{
				Path: path, Writer: true,
				PageSize: pageSize, MDPagesReserved: mdPagesReserved,
				TickLen: time.Second, MaxLag: maxLag,
			}

			w, err := Open(wOpts, Collaborators{
				PageBuffer:    pb,
				MetadataCache: mdcache.New(),
				FreeSpace:     freespace.New(pageSize, 2, mdPagesReserved),
				Clock:         clock.NewFake(time.Unix(0, 0)),
			})
			require.NoError(t, err)
			defer func() { _ = w.Close() }()

			readerPB := pagebuffer.New()
			rOpts := wOpts
			rOpts.Writer = false

			r, err := Open(rOpts, Collaborators{
				ReaderPageBuffer: readerPB,
				MetadataCache:    mdcache.New(),
				Clock:            clock.NewFake(time.Unix(0, 0)),
			})
			require.NoError(t, err)
			defer func() { _ = r.file.Close() }()

			model := map[uint32]publishedPage{}

			// readerView is the page set the reader held after its last
			// poll; readerPollTick is the writer tick it froze at.
			readerView := map[uint32]struct{}{}
			readerPollTick := r.reader.Tick()
			evictionsSeen := 0

			for step := 0; step < steps; step++ {
				// Dirty a random handful of pages; re-dirtying a page
				// already in the index is the "changed" case the reader
				// diff must catch.
				dirtied := map[uint32]struct{}{}
				for n := rng.IntN(4); n >= 0; n-- {
					page := uint32(rng.IntN(maxPage))
					if _, dup := dirtied[page]; dup {
						continue
					}
					dirtied[page] = struct{}{}

					image := make([]byte, 16+rng.IntN(pageSize-16))
					fillRandom(rng, image)
					pb.Dirty(page, image)

					model[page] = publishedPage{
						checksum:      codec.ComputeChecksum(image),
						lastPublished: w.writer.Tick(),
					}
				}

				require.NoError(t, w.EndOfTick())

				// The on-disk index must round-trip, stay sorted and
				// key-unique, and carry exactly the model's contents.
				hdr, idx := readHeaderAndIndex(t, path)
				require.Equal(t, w.writer.Tick(), hdr.Tick)
				require.Equal(t, hdr.Tick, idx.Tick)

				bad, _ := codec.ValidateOrder(idx.Entries)
				require.Equal(t, -1, bad, "published index must be sorted and key-unique")

				require.Len(t, idx.Entries, len(model))
				for _, e := range idx.Entries {
					want, ok := model[e.DataPageOffset]
					require.True(t, ok, "published page %d not in model", e.DataPageOffset)
					require.Equal(t, want.checksum, e.Checksum, "page %d image checksum", e.DataPageOffset)
				}

				// The reader polls on roughly two ticks out of three, so
				// some polls observe several writer ticks at once.
				if rng.IntN(3) == 0 {
					continue
				}

				diffs, err := r.reader.EndOfTick()
				require.NoError(t, err)
				require.Equal(t, w.writer.Tick(), r.reader.Tick())

				// Expected evictions: pages in the reader's previous view
				// that were republished after it froze. The writer never
				// drops an index entry mid-session, so the removed case
				// cannot occur here.
				wantEvicted := map[uint32]struct{}{}
				for page := range readerView {
					if model[page].lastPublished >= readerPollTick {
						wantEvicted[page] = struct{}{}
					}
				}

				gotEvicted := map[uint32]struct{}{}
				for _, page := range readerPB.Evicted()[evictionsSeen:] {
					gotEvicted[page] = struct{}{}
				}
				evictionsSeen = len(readerPB.Evicted())

				require.Equal(t, wantEvicted, gotEvicted, "eviction set after poll at writer tick %d", w.writer.Tick())

				// Every diff must name a page in the old or new index;
				// the reader must never touch an unrelated page.
				for _, d := range diffs {
					_, inModel := model[d.Page]
					_, inOldView := readerView[d.Page]
					require.True(t, inModel || inOldView, "diff names page %d outside both indices", d.Page)
				}

				readerView = map[uint32]struct{}{}
				for _, e := range r.reader.Entries() {
					readerView[e.DataPageOffset] = struct{}{}
				}
				require.Len(t, readerView, len(model))

				readerPollTick = r.reader.Tick()

				// A second poll at the same tick is a no-op: no eviction,
				// no diff.
				diffs, err = r.reader.EndOfTick()
				require.NoError(t, err)
				require.Empty(t, diffs)
				require.Len(t, readerPB.Evicted(), evictionsSeen, "idempotent poll must not evict")
			}
		})
	}
}

func fillRandom(rng *rand.Rand, b []byte) {
	for i := range b {
		b[i] = byte(rng.UintN(256))
	}
}
