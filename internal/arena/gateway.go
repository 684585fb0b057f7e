package arena

import (
	"context"
	"errors"
	"time"
)

// Gateway errors. Implementations wrap these so callers can classify with
// errors.Is: ErrNotFound for a 404-equivalent, ErrUnavailable for everything
// else (transport errors, timeouts, 5xx, undecodable bodies).
var (
	ErrNotFound    = errors.New("not found")
	ErrUnavailable = errors.New("upstream unavailable")
)

// QueueType selects which game mode's statistics are queried.
type QueueType string

const QueueArena QueueType = "arena"

// Identity is the display name and tag of a tracked player.
type Identity struct {
	Name string
	Tag  string
}

// String renders the identity the way the backend expects it ("Name #TAG").
func (id Identity) String() string { return id.Name + " #" + id.Tag }

type CacheStatus struct {
	IsCached bool
}

// Metric is a single named statistic, already formatted for display.
type Metric struct {
	Name  string
	Value string
}

// StatsResult keeps the backend's metric order.
type StatsResult struct {
	Metrics []Metric
}

func (r StatsResult) Empty() bool { return len(r.Metrics) == 0 }

type RankingEntry struct {
	Rank  int
	Name  string
	Value string
}

// RankingCategory is one metric's top-N list. A rankings result is an
// ordered list of categories.
type RankingCategory struct {
	Metric  string
	Entries []RankingEntry
}

// Gateway is the stats backend as seen by the pipeline.
type Gateway interface {
	ResolveIdentity(ctx context.Context, id Identity) (puuid string, err error)
	// GuildMembers returns the set of tracked puuids for a guild. An empty set
	// is a valid answer.
	GuildMembers(ctx context.Context, guildID string) (map[string]struct{}, error)
	CacheStatus(ctx context.Context, puuid string, id Identity, rangeDays int) (CacheStatus, error)
	Stats(ctx context.Context, puuid string, rangeDays int, queue QueueType) (StatsResult, error)
	Rankings(ctx context.Context, guildID string, start time.Time, queue QueueType) ([]RankingCategory, error)
}
