package scuttleapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scuttlebot/internal/arena"
	"scuttlebot/internal/broadcast"
)

func newTestClient(t *testing.T, h http.Handler, retry int) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Config{
		BaseURL:      srv.URL + "/",
		APIKey:       "k-123",
		Timeout:      2 * time.Second,
		RetryMax:     retry,
		RetryInitial: time.Millisecond,
	})
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, body)
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
	_, err = New(Config{BaseURL: "not a url"})
	assert.Error(t, err)
}

func TestResolveIdentity(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/riot/puuid", r.URL.Path)
		assert.Equal(t, "k-123", r.Header.Get("x-api-key"))
		switch r.URL.Query().Get("riotId") {
		case "Hide on bush #KR1":
			writeJSON(w, `{"data":{"puuid":"p-1"}}`)
		default:
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		}
	}), 0)

	puuid, err := c.ResolveIdentity(context.Background(), arena.Identity{Name: "Hide on bush", Tag: "KR1"})
	require.NoError(t, err)
	assert.Equal(t, "p-1", puuid)

	_, err = c.ResolveIdentity(context.Background(), arena.Identity{Name: "Faker", Tag: "KR1"})
	assert.ErrorIs(t, err, arena.ErrNotFound)
	assert.NotErrorIs(t, err, arena.ErrUnavailable)
}

func TestGuildMembers(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/summoners/guild/G1":
			writeJSON(w, `{"data":[]}`)
		case "/summoners/guild/G2":
			writeJSON(w, `{"data":[{"puuid":"a","name":"x"},{"puuid":"b"}]}`)
		case "/summoners/guild/G3":
			writeJSON(w, `{"data":null}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}), 0)

	m, err := c.GuildMembers(context.Background(), "G1")
	require.NoError(t, err)
	assert.Empty(t, m)

	m, err = c.GuildMembers(context.Background(), "G2")
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"a": {}, "b": {}}, m)

	m, err = c.GuildMembers(context.Background(), "G3")
	require.NoError(t, err)
	assert.Empty(t, m)
}

func TestCacheStatusSendsRangeAndName(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/summoners/cache/p-1", r.URL.Path)
		assert.Equal(t, "7", r.URL.Query().Get("range"))
		assert.Equal(t, "Hide on bush #KR1", r.URL.Query().Get("name"))
		writeJSON(w, `{"data":{"isCached":true}}`)
	}), 0)

	cs, err := c.CacheStatus(context.Background(), "p-1", arena.Identity{Name: "Hide on bush", Tag: "KR1"}, 7)
	require.NoError(t, err)
	assert.True(t, cs.IsCached)
}

func TestStatsKeepsBackendOrder(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "arena", r.URL.Query().Get("queueType"))
		assert.Equal(t, "30", r.URL.Query().Get("range"))
		writeJSON(w, `{"data":{"stats":{"Win Rate":"25%","Games":12,"Average Placement":3.5,"Zeta":true}}}`)
	}), 0)

	res, err := c.Stats(context.Background(), "p-1", 30, arena.QueueArena)
	require.NoError(t, err)
	assert.Equal(t, []arena.Metric{
		{Name: "Win Rate", Value: "25%"},
		{Name: "Games", Value: "12"},
		{Name: "Average Placement", Value: "3.5"},
		{Name: "Zeta", Value: "true"},
	}, res.Metrics)
}

func TestStatsEmptyAndNotFound(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			writeJSON(w, `{"data":{"stats":{}}}`)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}), 3)

	res, err := c.Stats(context.Background(), "p", 1, arena.QueueArena)
	require.NoError(t, err)
	assert.True(t, res.Empty())

	_, err = c.Stats(context.Background(), "p", 1, arena.QueueArena)
	assert.ErrorIs(t, err, arena.ErrNotFound)
	assert.Equal(t, int32(2), calls.Load(), "404 must not be retried")
}

func TestRankings(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rankings/pretty", r.URL.Path)
		assert.Equal(t, "G1", r.URL.Query().Get("guildId"))
		assert.Equal(t, "2024-05-12", r.URL.Query().Get("startDate"))
		writeJSON(w, `{"data":{"rankings":{
			"Wins":[{"name":"b","value":9},{"name":"a","value":7}],
			"Average Placement":[{"name":"a","value":"2.1"}]
		}}}`)
	}), 0)

	start := time.Date(2024, time.May, 12, 0, 0, 0, 0, time.UTC)
	cats, err := c.Rankings(context.Background(), "G1", start, arena.QueueArena)
	require.NoError(t, err)
	assert.Equal(t, []arena.RankingCategory{
		{Metric: "Wins", Entries: []arena.RankingEntry{{Rank: 1, Name: "b", Value: "9"}, {Rank: 2, Name: "a", Value: "7"}}},
		{Metric: "Average Placement", Entries: []arena.RankingEntry{{Rank: 1, Name: "a", Value: "2.1"}}},
	}, cats)
}

func TestRankingsMalformedIsUnavailable(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"data":{"rankings":{"Wins":"oops"}}}`)
	}), 0)
	_, err := c.Rankings(context.Background(), "G1", time.Now(), arena.QueueArena)
	assert.ErrorIs(t, err, arena.ErrUnavailable)
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeJSON(w, `{"data":{"puuid":"p-9"}}`)
	}), 3)

	puuid, err := c.ResolveIdentity(context.Background(), arena.Identity{Name: "a", Tag: "b"})
	require.NoError(t, err)
	assert.Equal(t, "p-9", puuid)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGivesUpAfterRetryMax(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}), 2)

	_, err := c.GuildMembers(context.Background(), "G1")
	assert.ErrorIs(t, err, arena.ErrUnavailable)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}), 3)

	_, err := c.GuildMembers(context.Background(), "G1")
	assert.ErrorIs(t, err, arena.ErrUnavailable)
	assert.Contains(t, err.Error(), "401")
	assert.Equal(t, int32(1), calls.Load())
}

func TestTimeoutIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	_, err = c.CacheStatus(context.Background(), "p", arena.Identity{}, 1)
	assert.ErrorIs(t, err, arena.ErrUnavailable)
	assert.False(t, errors.Is(err, arena.ErrNotFound))
}

func TestBroadcastTargets(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/guilds/with-main-channel", r.URL.Path)
		writeJSON(w, `{"data":{"guilds":[
			{"guild_id":"-100123","name":"Alpha","main_channel_id":"-100123"},
			{"guild_id":"-100456","name":"Beta","main_channel_id":"-100456:7"}
		]}}`)
	}), 0)

	got, err := c.BroadcastTargets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []broadcast.Target{
		{GuildID: "-100123", Name: "Alpha", ChannelID: "-100123"},
		{GuildID: "-100456", Name: "Beta", ChannelID: "-100456:7"},
	}, got)
}

func TestApplySwapsAPIKey(t *testing.T) {
	var seen atomic.Value
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.Store(r.Header.Get("x-api-key"))
		writeJSON(w, `{"data":{"isCached":false}}`)
	}), 0)

	cfg := c.config()
	cfg.APIKey = "k-456"
	require.NoError(t, c.Apply(cfg))
	_, err := c.CacheStatus(context.Background(), "p", arena.Identity{}, 1)
	require.NoError(t, err)
	assert.Equal(t, "k-456", seen.Load())

	assert.Error(t, c.Apply(Config{}))
}

func TestEachMemberRejectsNonObject(t *testing.T) {
	err := eachMember([]byte(`[1,2]`), func(string, json.RawMessage) error { return nil })
	assert.Error(t, err)
	assert.NoError(t, eachMember(nil, nil))
	assert.NoError(t, eachMember([]byte(`null`), nil))
}

func TestSnippetCutsOnRuneBoundary(t *testing.T) {
	body := []byte(strings.Repeat("é", 250))
	got := snippet(body)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("é", 200)+"...", got)
	assert.Equal(t, "short", snippet([]byte("  short \n")))
}
