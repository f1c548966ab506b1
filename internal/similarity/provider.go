package similarity

import (
	"sync"

	"github.com/protlit/protlit/internal/store"
)

// hnswCutover is the snapshot size above which the approximate graph index
// beats the exact scan. Below it the linear scan is both faster to build
// and exact.
const hnswCutover = 4096

// NewSnapshotProvider returns an IndexProvider over the snapshot holder.
// The index is rebuilt lazily on first use after a snapshot swap and
// memoized per generation, so queries between ingestions share one index.
func NewSnapshotProvider(holder *store.SnapshotHolder) IndexProvider {
	var (
		mu      sync.Mutex
		built   Index
		builtAt uint64
	)
	return func() Index {
		snap := holder.Load()

		mu.Lock()
		defer mu.Unlock()
		if built != nil && builtAt == snap.Generation {
			return built
		}
		built = NewLinearIndex(snap)
		if snap.Len() >= hnswCutover {
			if idx, err := NewHNSWIndex(snap, DefaultHNSWConfig()); err == nil {
				built = idx
			}
		}
		builtAt = snap.Generation
		return built
	}
}
