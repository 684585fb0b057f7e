package scuttleapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"scuttlebot/internal/arena"
	"scuttlebot/internal/broadcast"
)

var (
	_ arena.Gateway          = (*Client)(nil)
	_ broadcast.TargetSource = (*Client)(nil)
)

func (c *Client) ResolveIdentity(ctx context.Context, id arena.Identity) (string, error) {
	var data struct {
		PUUID string `json:"puuid"`
	}
	q := url.Values{"riotId": {id.String()}}
	if err := c.get(ctx, "puuid", "/riot/puuid", q, &data); err != nil {
		return "", err
	}
	if data.PUUID == "" {
		return "", fmt.Errorf("puuid: empty answer for %s: %w", id, arena.ErrNotFound)
	}
	return data.PUUID, nil
}

func (c *Client) GuildMembers(ctx context.Context, guildID string) (map[string]struct{}, error) {
	var data []struct {
		PUUID string `json:"puuid"`
	}
	if err := c.get(ctx, "guild_summoners", "/summoners/guild/"+url.PathEscape(guildID), nil, &data); err != nil {
		return nil, err
	}
	members := make(map[string]struct{}, len(data))
	for _, s := range data {
		if s.PUUID != "" {
			members[s.PUUID] = struct{}{}
		}
	}
	return members, nil
}

func (c *Client) CacheStatus(ctx context.Context, puuid string, id arena.Identity, rangeDays int) (arena.CacheStatus, error) {
	var data struct {
		IsCached bool `json:"isCached"`
	}
	q := url.Values{
		"range": {fmt.Sprint(rangeDays)},
		"name":  {id.String()},
	}
	if err := c.get(ctx, "cache", "/summoners/cache/"+url.PathEscape(puuid), q, &data); err != nil {
		return arena.CacheStatus{}, err
	}
	return arena.CacheStatus{IsCached: data.IsCached}, nil
}

func (c *Client) Stats(ctx context.Context, puuid string, rangeDays int, queue arena.QueueType) (arena.StatsResult, error) {
	var data struct {
		Stats json.RawMessage `json:"stats"`
	}
	q := url.Values{
		"range":     {fmt.Sprint(rangeDays)},
		"queueType": {string(queue)},
	}
	if err := c.get(ctx, "stats", "/stats/pretty/"+url.PathEscape(puuid), q, &data); err != nil {
		return arena.StatsResult{}, err
	}
	var res arena.StatsResult
	err := eachMember(data.Stats, func(key string, val json.RawMessage) error {
		res.Metrics = append(res.Metrics, arena.Metric{Name: key, Value: scalarText(val)})
		return nil
	})
	if err != nil {
		return arena.StatsResult{}, fmt.Errorf("stats: decode: %w: %w", arena.ErrUnavailable, err)
	}
	return res, nil
}

func (c *Client) Rankings(ctx context.Context, guildID string, start time.Time, queue arena.QueueType) ([]arena.RankingCategory, error) {
	var data struct {
		Rankings json.RawMessage `json:"rankings"`
	}
	q := url.Values{
		"guildId":   {guildID},
		"startDate": {start.Format(time.DateOnly)},
		"queueType": {string(queue)},
	}
	if err := c.get(ctx, "rankings", "/rankings/pretty", q, &data); err != nil {
		return nil, err
	}
	var cats []arena.RankingCategory
	err := eachMember(data.Rankings, func(metric string, val json.RawMessage) error {
		var entries []struct {
			Name  string          `json:"name"`
			Value json.RawMessage `json:"value"`
		}
		if err := json.Unmarshal(val, &entries); err != nil {
			return fmt.Errorf("category %q: %w", metric, err)
		}
		cat := arena.RankingCategory{Metric: metric}
		for i, e := range entries {
			cat.Entries = append(cat.Entries, arena.RankingEntry{Rank: i + 1, Name: e.Name, Value: scalarText(e.Value)})
		}
		cats = append(cats, cat)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("rankings: decode: %w: %w", arena.ErrUnavailable, err)
	}
	return cats, nil
}

// BroadcastTargets lists guilds that have a main channel configured.
func (c *Client) BroadcastTargets(ctx context.Context) ([]broadcast.Target, error) {
	var data struct {
		Guilds []struct {
			GuildID       string `json:"guild_id"`
			Name          string `json:"name"`
			MainChannelID string `json:"main_channel_id"`
		} `json:"guilds"`
	}
	if err := c.get(ctx, "broadcast_targets", "/guilds/with-main-channel", nil, &data); err != nil {
		return nil, err
	}
	out := make([]broadcast.Target, 0, len(data.Guilds))
	for _, g := range data.Guilds {
		out = append(out, broadcast.Target{GuildID: g.GuildID, Name: g.Name, ChannelID: g.MainChannelID})
	}
	return out, nil
}
