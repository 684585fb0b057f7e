package app

import (
	"errors"
	"fmt"
	"time"

	"scuttlebot/internal/arena"
	"scuttlebot/internal/broadcast"
	"scuttlebot/pkg/tgui"
)

// Telegram HTML renderings of query results and broadcast summaries.

const (
	statsFooter    = "📝 Note: match data is updated hourly on the hour."
	rankingsFooter = "Data is updated hourly."
	genericFailure = "Something went wrong while handling this command. Please try again later."
)

func renderStats(id arena.Identity, rangeDays int, res arena.StatsResult) string {
	var t tgui.Text
	t.Line(tgui.B(fmt.Sprintf("⚔️ %s's Arena stats for the past %d day(s)", id, rangeDays)))
	t.Line(tgui.Raw("Collected stats for "), tgui.B(id.String()),
		tgui.Esc(fmt.Sprintf("'s Arena matches over the past %d day(s).", rangeDays)))
	t.Blank()
	for _, m := range res.Metrics {
		t.Line(tgui.B(m.Name), tgui.Esc(": "+m.Value))
	}
	t.Blank()
	t.Line(tgui.I(statsFooter))
	return t.String()
}

// renderRankings lists each category's entries as "1. value - name". topN
// caps entries per category; 0 shows everything the backend returned.
func renderRankings(guildName string, res arena.RankingsResult, today time.Time, topN int) string {
	if guildName == "" {
		guildName = "this guild"
	}
	var t tgui.Text
	t.Line(tgui.B(fmt.Sprintf("⚔️ Top Arena Players (%s - %s)", res.Window.Start.Format("Jan 2"), today.Format("Jan 2"))))
	t.Line(tgui.Esc("Top arena rankings in " + guildName))

	if len(res.Categories) == 0 {
		t.Blank().Line(tgui.Raw("No rankings yet for this period."))
	}
	for _, cat := range res.Categories {
		t.Blank().Line(tgui.B(cat.Metric))
		entries := cat.Entries
		if topN > 0 && len(entries) > topN {
			entries = entries[:topN]
		}
		for _, e := range entries {
			t.Line(tgui.Esc(fmt.Sprintf("%d. %s - %s", e.Rank, e.Value, e.Name)))
		}
	}
	t.Blank().Line(tgui.I(rankingsFooter))
	return t.String()
}

// renderQueryError shows domain failures verbatim and hides transport
// detail behind the generic upstream text.
func renderQueryError(title string, err error) string {
	msg := genericFailure
	if f, ok := arena.AsFailure(err); ok {
		msg = f.Message
	} else if errors.Is(err, arena.ErrInvalidPeriod) {
		msg = err.Error()
	}
	return errorCard("❌ "+title, msg)
}

func errorCard(title, body string) string {
	var t tgui.Text
	return t.Line(tgui.B(title)).Line(tgui.Esc(body)).String()
}

func renderReport(r broadcast.Report) string {
	title, prefix := "📡 Broadcast Complete", tgui.H("")
	if r.Test {
		title, prefix = "📡 Test Broadcast Complete", tgui.Raw("<b>TEST MODE</b> - ")
	}
	plural := "s"
	if r.Attempted == 1 {
		plural = ""
	}

	var t tgui.Text
	t.Line(tgui.B(title))
	t.Line(prefix, tgui.Esc(fmt.Sprintf("Broadcast sent to %d/%d guild%s.", r.Succeeded, r.Attempted, plural)))
	t.Blank()
	t.Line(tgui.Esc(fmt.Sprintf("✅ Successful: %d", r.Succeeded)))
	t.Line(tgui.Esc(fmt.Sprintf("❌ Failed: %d", r.Failed)))
	if len(r.FailureReasons) > 0 {
		t.Blank().Line(tgui.B("Failures"))
		for _, reason := range r.FailureReasons {
			t.Line(tgui.Esc(reason))
		}
		if r.Truncated {
			t.Line(tgui.Esc(fmt.Sprintf("... and %d more", r.Hidden())))
		}
	}
	return t.String()
}

func renderBroadcastError(err error, req broadcast.Request) string {
	switch {
	case errors.Is(err, broadcast.ErrNoTargets):
		return errorCard("⚠️ No Guilds Found", "No guilds with main channels configured.")
	case errors.Is(err, broadcast.ErrTestTargetNotFound):
		return errorCard("⚠️ Test Guild Not Found", fmt.Sprintf("Guild ID %s not found or has no main channel configured.", req.TestGuildID))
	case errors.Is(err, broadcast.ErrTemplateNotFound):
		return errorCard("❌ Broadcast Error", fmt.Sprintf("Template '%s' not found.", req.Template))
	case errors.Is(err, broadcast.ErrSourceUnavailable):
		return errorCard("❌ Broadcast Error", "Could not load the guild list from the stats service. Please try again later.")
	default:
		return errorCard("❌ Broadcast Error", genericFailure)
	}
}

func renderTemplates(keys []string) string {
	if len(keys) == 0 {
		return "No broadcast templates are configured."
	}
	var t tgui.Text
	t.Line(tgui.B("📡 Broadcast templates"))
	for _, k := range keys {
		t.Line(tgui.Raw("• "), tgui.Code(k))
	}
	return t.String()
}

// usage renders a command's usage line under an error title.
func usage(title, u string) string {
	var t tgui.Text
	return t.Line(tgui.B("❌ "+title)).Line(tgui.Raw("Usage: "), tgui.Code(u)).String()
}
