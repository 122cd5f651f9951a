package app

import (
	"testing"
	"time"

	"github.com/alanyoungcy/agentdesk/internal/domain"
)

func TestBookStartFollowsReplayedHistory(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if got := bookStart(nil, now); !got.Equal(now) {
		t.Fatalf("no series = %v, want now", got)
	}
	early := time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC)
	series := []domain.Series{
		{Symbol: "ETHUSDT", Bars: []domain.Bar{{Time: early.Add(time.Hour)}}},
		{Symbol: "EMPTY"},
		{Symbol: "BTCUSDT", Bars: []domain.Bar{{Time: early}, {Time: early.Add(time.Hour)}}},
	}
	if got := bookStart(series, now); !got.Equal(early) {
		t.Fatalf("bookStart = %v, want %v", got, early)
	}
}
