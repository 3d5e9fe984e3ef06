package membership

import (
	"log/slog"
	"testing"
	"time"

	"github.com/nicklamont/slack-chat-migrator/internal/export"
	"github.com/nicklamont/slack-chat-migrator/internal/identity"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func testCalculator() *Calculator {
	users := map[string]export.User{
		"U01": {ID: "U01", Profile: export.Profile{Email: "alice@corp.example"}},
		"U02": {ID: "U02", Profile: export.Profile{Email: "bob@corp.example"}},
		"U03": {ID: "U03", Profile: export.Profile{Email: "eve@partner.example"}},
		"U04": {ID: "U04", IsBot: true},
		"U05": {ID: "U05"}, // unmapped
	}
	r := identity.NewResolver(users, nil, "corp.example", true)
	return NewCalculator(r, slog.Default())
}

func recordFor(t *testing.T, records []Record, userID string) Record {
	t.Helper()
	for _, r := range records {
		if r.UserID == userID {
			return r
		}
	}
	t.Fatalf("no record for %s", userID)
	return Record{}
}

func TestWindows_ExplicitJoinAndLeave(t *testing.T) {
	ch := export.Channel{Name: "general", Created: 1600000000}
	msgs := []export.Message{
		{Type: "message", Subtype: "channel_join", TS: "1600000100.000000", User: "U01"},
		{Type: "message", TS: "1600000200.000000", User: "U01", Text: "hi"},
		{Type: "message", Subtype: "channel_leave", TS: "1600000300.000000", User: "U01"},
	}

	records, unmapped := testCalculator().Windows(ch, msgs, testNow)
	if len(unmapped) != 0 {
		t.Errorf("unexpected unmapped: %v", unmapped)
	}
	rec := recordFor(t, records, "U01")
	if !rec.JoinTime.Equal(time.Unix(1600000100, 0).UTC()) {
		t.Errorf("got join %v", rec.JoinTime)
	}
	if !rec.LeaveTime.Equal(time.Unix(1600000300, 0).UTC()) {
		t.Errorf("got leave %v", rec.LeaveTime)
	}
	if rec.IsActive {
		t.Error("user who left must not be active")
	}
}

func TestWindows_JoinFallbackFirstMessage(t *testing.T) {
	ch := export.Channel{Name: "general", Created: 1600000000}
	msgs := []export.Message{
		{Type: "message", TS: "1600005000.000000", User: "U01", Text: "no join event"},
	}

	records, _ := testCalculator().Windows(ch, msgs, testNow)
	rec := recordFor(t, records, "U01")
	want := time.Unix(1600005000, 0).UTC().Add(-1 * time.Minute)
	if !rec.JoinTime.Equal(want) {
		t.Errorf("got join %v, want first message minus a minute (%v)", rec.JoinTime, want)
	}
}

func TestWindows_MemberWithNoMessagesGetsChannelCreation(t *testing.T) {
	ch := export.Channel{Name: "general", Created: 1600000000, Members: []string{"U02"}}
	records, _ := testCalculator().Windows(ch, nil, testNow)
	rec := recordFor(t, records, "U02")
	if !rec.JoinTime.Equal(time.Unix(1600000000, 0).UTC()) {
		t.Errorf("got join %v, want channel creation", rec.JoinTime)
	}
	if !rec.IsActive {
		t.Error("listed member must be active")
	}
	if !rec.LeaveTime.IsZero() {
		t.Errorf("active user's leave must stay unset, got %v", rec.LeaveTime)
	}
}

func TestWindows_EarliestMessageFallback(t *testing.T) {
	// No channel creation time, member never posted, but others did.
	ch := export.Channel{Name: "general", Members: []string{"U02"}}
	msgs := []export.Message{
		{Type: "message", TS: "1600001000.000000", User: "U01", Text: "first"},
	}
	records, _ := testCalculator().Windows(ch, msgs, testNow)
	rec := recordFor(t, records, "U02")
	want := time.Unix(1600001000, 0).UTC().Add(-2 * time.Minute)
	if !rec.JoinTime.Equal(want) {
		t.Errorf("got join %v, want earliest message minus two minutes (%v)", rec.JoinTime, want)
	}
}

func TestWindows_EpochFallback(t *testing.T) {
	ch := export.Channel{Name: "empty", Members: []string{"U02"}}
	records, _ := testCalculator().Windows(ch, nil, testNow)
	rec := recordFor(t, records, "U02")
	if !rec.JoinTime.Equal(time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("got join %v, want epoch fallback", rec.JoinTime)
	}
}

func TestWindows_JoinAlwaysInPast(t *testing.T) {
	// Channel created "now": the fallback must still land strictly before.
	ch := export.Channel{Name: "new", Created: testNow.Unix(), Members: []string{"U01"}}
	records, _ := testCalculator().Windows(ch, nil, testNow)
	rec := recordFor(t, records, "U01")
	if !rec.JoinTime.Before(testNow) {
		t.Errorf("join %v not before now %v", rec.JoinTime, testNow)
	}
}

func TestWindows_MemberListOverridesLeaveEvents(t *testing.T) {
	// U01 left per the message stream, but the metadata member list still
	// names them. The member list wins.
	ch := export.Channel{Name: "general", Created: 1600000000, Members: []string{"U01"}}
	msgs := []export.Message{
		{Type: "message", Subtype: "channel_join", TS: "1600000100.000000", User: "U01"},
		{Type: "message", Subtype: "channel_leave", TS: "1600000200.000000", User: "U01"},
	}
	records, _ := testCalculator().Windows(ch, msgs, testNow)
	rec := recordFor(t, records, "U01")
	if !rec.IsActive {
		t.Error("member list must override leave events")
	}
	if !rec.LeaveTime.IsZero() {
		t.Errorf("active user's leave must stay unset, got %v", rec.LeaveTime)
	}
}

func TestWindows_BotsSkippedUnmappedReported(t *testing.T) {
	ch := export.Channel{Name: "general", Created: 1600000000, Members: []string{"U04", "U05"}}
	records, unmapped := testCalculator().Windows(ch, nil, testNow)
	if len(records) != 0 {
		t.Errorf("bot and unmapped users must not produce records: %+v", records)
	}
	if len(unmapped) != 1 || unmapped[0] != "U05" {
		t.Errorf("got unmapped %v, want [U05]", unmapped)
	}
}

func TestWindows_LeaveNeverBeforeJoin(t *testing.T) {
	// Leave event precedes the derived join (no join event, late first
	// message). The window is clamped instead of inverted.
	ch := export.Channel{Name: "general", Created: 1600000000}
	msgs := []export.Message{
		{Type: "message", Subtype: "channel_leave", TS: "1600000050.000000", User: "U01"},
		{Type: "message", TS: "1600009000.000000", User: "U01", Text: "back briefly"},
	}
	records, _ := testCalculator().Windows(ch, msgs, testNow)
	rec := recordFor(t, records, "U01")
	if rec.LeaveTime.Before(rec.JoinTime) {
		t.Errorf("leave %v before join %v", rec.LeaveTime, rec.JoinTime)
	}
}

func TestWindows_ExternalUserKind(t *testing.T) {
	ch := export.Channel{Name: "general", Created: 1600000000, Members: []string{"U03"}}
	records, _ := testCalculator().Windows(ch, nil, testNow)
	rec := recordFor(t, records, "U03")
	if rec.Kind != identity.KindExternal {
		t.Errorf("got kind %v, want external", rec.Kind)
	}
	if rec.Email != "eve@partner.example" {
		t.Errorf("got email %q", rec.Email)
	}
}
