package models

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlayerProfile_PushHistoryCapsNewestFirst(t *testing.T) {
	p := NewPlayerProfile("alice")
	assert.Equal(t, DefaultRating, p.Rating)
	assert.Empty(t, p.History())

	for i := 0; i < RecentHistoryCap+5; i++ {
		require.NoError(t, p.PushHistory(HistoryEntry{RecordID: fmt.Sprintf("r%d", i), Result: ResultWin}))
	}

	h := p.History()
	require.Len(t, h, RecentHistoryCap)
	assert.Equal(t, fmt.Sprintf("r%d", RecentHistoryCap+4), h[0].RecordID)
	assert.Equal(t, "r5", h[len(h)-1].RecordID)
}

func TestPlayerProfile_CorruptHistoryReadsEmpty(t *testing.T) {
	p := PlayerProfile{RecentHistory: []byte(`{oops`)}
	assert.Empty(t, p.History())
	require.NoError(t, p.PushHistory(HistoryEntry{RecordID: "r1"}))
	assert.Len(t, p.History(), 1)
}
