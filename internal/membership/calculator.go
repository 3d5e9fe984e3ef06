package membership

import (
	"log/slog"
	"sort"
	"time"

	"github.com/nicklamont/slack-chat-migrator/internal/export"
	"github.com/nicklamont/slack-chat-migrator/internal/identity"
)

// Fallbacks for join times, each less precise than the one before. Any of
// the inputs can be missing independently.
const (
	joinBeforeFirstMessage = 1 * time.Minute
	joinBeforeEarliestMsg  = 2 * time.Minute
)

// epochFallback is the last resort when a channel has no creation time and
// no messages at all.
var epochFallback = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// Record is one user's historical membership window for a channel. LeaveTime
// stays zero for still-active users; the submitter fills it at submission
// time because the import API requires it to be strictly in the past.
type Record struct {
	UserID    string
	Email     string
	Kind      identity.Kind
	JoinTime  time.Time
	LeaveTime time.Time
	IsActive  bool
}

type userEvents struct {
	firstMsg  time.Time
	firstJoin time.Time
	lastJoin  time.Time
	lastLeave time.Time
}

// Calculator derives membership windows from a channel's message stream and
// its authoritative member list. It has no side effects.
type Calculator struct {
	resolver *identity.Resolver
	logger   *slog.Logger
}

func NewCalculator(resolver *identity.Resolver, logger *slog.Logger) *Calculator {
	return &Calculator{resolver: resolver, logger: logger}
}

// Windows returns one record per user who posted, explicitly joined or left,
// or is currently listed as a member. Users with no resolvable target
// identity are skipped and returned separately, never defaulted.
func (c *Calculator) Windows(ch export.Channel, msgs []export.Message, now time.Time) ([]Record, []string) {
	events := make(map[string]*userEvents)
	var earliestAny time.Time

	get := func(userID string) *userEvents {
		ev, ok := events[userID]
		if !ok {
			ev = &userEvents{}
			events[userID] = ev
		}
		return ev
	}

	for _, m := range msgs {
		if m.User == "" {
			continue
		}
		ts, err := export.ParseTS(m.TS)
		if err != nil {
			continue
		}
		if earliestAny.IsZero() || ts.Before(earliestAny) {
			earliestAny = ts
		}

		ev := get(m.User)
		switch m.Subtype {
		case "channel_join", "group_join":
			if ev.firstJoin.IsZero() || ts.Before(ev.firstJoin) {
				ev.firstJoin = ts
			}
			if ts.After(ev.lastJoin) {
				ev.lastJoin = ts
			}
		case "channel_leave", "group_leave":
			if ts.After(ev.lastLeave) {
				ev.lastLeave = ts
			}
		default:
			if ev.firstMsg.IsZero() || ts.Before(ev.firstMsg) {
				ev.firstMsg = ts
			}
		}
	}

	// Join/leave events give a provisional active set (a leave strictly
	// after the last join means gone), but the metadata member list is the
	// final word and overwrites it entirely: messages can lag or omit join
	// state, the member list cannot.
	active := make(map[string]bool, len(ch.Members))
	for _, id := range ch.Members {
		active[id] = true
		if _, ok := events[id]; !ok {
			events[id] = &userEvents{}
		}
	}

	channelCreated := time.Time{}
	if ch.Created > 0 {
		channelCreated = time.Unix(ch.Created, 0).UTC()
	}

	ids := make([]string, 0, len(events))
	for id := range events {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var records []Record
	var unmapped []string
	for _, id := range ids {
		email, kind := c.resolver.Resolve(id)
		switch kind {
		case identity.KindBot:
			c.logger.Debug("skipping bot membership", "channel", ch.Name, "user", id)
			continue
		case identity.KindUnmapped:
			c.logger.Warn("skipping user with no target identity", "channel", ch.Name, "user", id)
			unmapped = append(unmapped, id)
			continue
		}

		ev := events[id]
		join := joinTime(ev, channelCreated, earliestAny, now)

		rec := Record{
			UserID:   id,
			Email:    email,
			Kind:     kind,
			JoinTime: join,
			IsActive: active[id],
		}
		if !ev.lastLeave.IsZero() && !rec.IsActive {
			rec.LeaveTime = ev.lastLeave
			if rec.LeaveTime.Before(rec.JoinTime) {
				rec.LeaveTime = rec.JoinTime
			}
		}
		records = append(records, rec)
	}
	return records, unmapped
}

// joinTime resolves the fallback cascade: explicit join event, first message
// minus a minute, channel creation, earliest message in the channel minus
// two minutes, then a fixed epoch.
func joinTime(ev *userEvents, channelCreated, earliestAny, now time.Time) time.Time {
	join := epochFallback
	switch {
	case !ev.firstJoin.IsZero():
		join = ev.firstJoin
	case !ev.firstMsg.IsZero():
		join = ev.firstMsg.Add(-joinBeforeFirstMessage)
	case !channelCreated.IsZero():
		join = channelCreated
	case !earliestAny.IsZero():
		join = earliestAny.Add(-joinBeforeEarliestMsg)
	}
	// Import mode requires times strictly in the past.
	if !join.Before(now) {
		join = now.Add(-joinBeforeFirstMessage)
	}
	return join
}
