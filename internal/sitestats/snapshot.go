package sitestats

// Snapshot is an immutable read of the site_stats row at one point in time.
// Snapshots are replaced wholesale on reload, never mutated in place.
type Snapshot struct {
	TotalEdits   int64
	GoodArticles int64
	TotalPages   int64
	Users        int64
	ActiveUsers  int64
	Images       int64
}

// maxCounterValue bounds every tracked counter; anything above it is treated
// as corruption (most likely an overflowed increment).
const maxCounterValue = 2_000_000_000

// legacyTotalPagesSentinel marks rows written before ss_total_pages existed.
// A NULL column is normalized to this value at load time so the migration
// check only has one case to consider.
const legacyTotalPagesSentinel = -1

// isSane reports whether a snapshot is internally consistent. An absent (nil)
// snapshot is never sane. The cross-field checks catch the common corruption
// modes: an uninitialized row, underflow from unbalanced decrements, and
// overflow. Pure; no ground truth is consulted.
func isSane(snap *Snapshot) bool {
	if snap == nil {
		return false
	}

	if snap.TotalPages < snap.GoodArticles || snap.TotalEdits < snap.TotalPages {
		return false
	}

	for _, value := range []int64{
		snap.TotalEdits,
		snap.GoodArticles,
		snap.TotalPages,
		snap.Users,
		snap.Images,
	} {
		if value < 0 || value > maxCounterValue {
			return false
		}
	}

	return true
}
