package sitestats

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsSane(t *testing.T) {
	valid := saneSnapshot()

	tests := []struct {
		name string
		snap *Snapshot
		want bool
	}{
		{"nil snapshot", nil, false},
		{"consistent", &valid, true},
		{"pages below articles", &Snapshot{TotalEdits: 100, GoodArticles: 50, TotalPages: 40}, false},
		{"edits below pages", &Snapshot{TotalEdits: 10, GoodArticles: 50, TotalPages: 80}, false},
		{"negative edits", &Snapshot{TotalEdits: -1}, false},
		{"negative users", &Snapshot{Users: -5}, false},
		{"negative images", &Snapshot{Images: -1}, false},
		{"legacy sentinel pages", &Snapshot{TotalEdits: 100, GoodArticles: 0, TotalPages: -1}, false},
		{"edits above ceiling", &Snapshot{TotalEdits: maxCounterValue + 1, GoodArticles: 0, TotalPages: 0}, false},
		{"all zero", &Snapshot{}, true},
		{"boundary ceiling", &Snapshot{
			TotalEdits:   maxCounterValue,
			GoodArticles: maxCounterValue,
			TotalPages:   maxCounterValue,
			Users:        maxCounterValue,
			Images:       maxCounterValue,
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, isSane(tt.snap))
		})
	}
}

func TestIsSaneIgnoresActiveUsersRange(t *testing.T) {
	snap := saneSnapshot()
	snap.ActiveUsers = maxCounterValue + 1
	require.True(t, isSane(&snap))
}
