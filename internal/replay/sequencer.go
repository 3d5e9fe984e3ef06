package replay

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/nicklamont/slack-chat-migrator/internal/chat"
	"github.com/nicklamont/slack-chat-migrator/internal/convert"
	"github.com/nicklamont/slack-chat-migrator/internal/export"
	"github.com/nicklamont/slack-chat-migrator/internal/identity"
	"github.com/nicklamont/slack-chat-migrator/internal/retryhttp"
	"github.com/nicklamont/slack-chat-migrator/internal/state"
	"github.com/nicklamont/slack-chat-migrator/internal/threshold"
)

// ChatAPI is the slice of the chat client the sequencer needs.
type ChatAPI interface {
	CreateMessage(ctx context.Context, space, messageID string, req chat.MessageRequest) (chat.Message, error)
	CreateReaction(ctx context.Context, messageName, unicode string) error
}

// Result carries the per-channel counts out of a replay.
type Result struct {
	Processed int
	Failed    int
	Deduped   int
	Skipped   int
	HadErrors bool
}

// Sequencer replays one channel's messages in timestamp order: dedup,
// watermark skip, thread linkage, conflict-as-success, best-effort reactions.
// Strictly sequential; thread-root-before-reply depends on it.
type Sequencer struct {
	api       ChatAPI
	store     *state.Store
	resolver  *identity.Resolver
	monitor   *threshold.Monitor
	logger    *slog.Logger
	sendDelay time.Duration
}

func NewSequencer(api ChatAPI, store *state.Store, resolver *identity.Resolver, monitor *threshold.Monitor, sendDelay time.Duration, logger *slog.Logger) *Sequencer {
	return &Sequencer{
		api:       api,
		store:     store,
		resolver:  resolver,
		monitor:   monitor,
		logger:    logger,
		sendDelay: sendDelay,
	}
}

// skippedSubtypes are system events that never become messages; join/leave
// markers feed the membership calculator instead.
var skippedSubtypes = map[string]bool{
	"channel_join":    true,
	"channel_leave":   true,
	"group_join":      true,
	"group_leave":     true,
	"channel_topic":   true,
	"channel_purpose": true,
	"channel_name":    true,
	"channel_archive": true,
}

// Replay sends a channel's messages into a space. Individual send failures
// are recorded and counted but never stop the loop; only cancellation does,
// and the caller flushes the checkpoint then.
func (s *Sequencer) Replay(ctx context.Context, channel, space string, msgs []export.Message) (Result, error) {
	ordered, dupes := Order(msgs)
	res := Result{Deduped: dupes}
	if dupes > 0 {
		s.logger.Debug("deduplicated messages", "channel", channel, "duplicates", dupes)
	}

	watermark := s.store.Watermark(channel)

	for i, m := range ordered {
		// Cancellation is checked between messages, never mid-call.
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if i > 0 && s.sendDelay > 0 {
			time.Sleep(s.sendDelay)
		}

		if m.Type != "message" || skippedSubtypes[m.Subtype] {
			res.Skipped++
			continue
		}
		if s.resolver.IgnoreBots() && s.resolver.IsBotMessage(m) {
			res.Skipped++
			continue
		}
		// Resumability: anything at or below the watermark was already
		// sent by an earlier interrupted run.
		if watermark != "" && !export.LessTS(watermark, m.TS) {
			res.Skipped++
			continue
		}

		sent, err := s.send(ctx, channel, space, m)
		if err != nil {
			s.logger.Error("message send failed", "channel", channel, "ts", m.TS, "error", err)
			s.monitor.RecordFailure(channel, m.TS, err)
			res.Failed++
			if s.monitor.Exceeded(res.Processed, res.Failed) {
				res.HadErrors = true
			}
			continue
		}

		res.Processed++
		if err := s.store.SetWatermark(channel, m.TS); err != nil {
			s.logger.Warn("checkpoint update failed", "channel", channel, "ts", m.TS, "error", err)
		}

		// Enrichments run after the message itself and never escalate.
		if sent.Name != "" {
			s.applyReactions(ctx, channel, sent.Name, m.Reactions)
		}
	}
	return res, nil
}

// send builds and submits one message. It returns the created resource; a
// conflict (already exists) comes back as success with an empty resource.
func (s *Sequencer) send(ctx context.Context, channel, space string, m export.Message) (chat.Message, error) {
	createTime, err := export.ParseTS(m.TS)
	if err != nil {
		return chat.Message{}, fmt.Errorf("bad timestamp: %w", err)
	}

	text := convert.Text(m.Text, s.resolver.DisplayName)
	text += convert.AttachmentLines(m.Files)

	req := chat.MessageRequest{
		CreateTime: createTime.Format(time.RFC3339Nano),
		Text:       text,
	}

	email, kind := s.resolver.Resolve(m.User)
	switch kind {
	case identity.KindInternal, identity.KindExternal:
		req.Sender = &chat.Sender{Type: "HUMAN", Name: "users/" + email}
	default:
		// No target identity: send under the run's administrative
		// identity with a textual attribution prefix.
		req.Text = fmt.Sprintf("[%s] %s", s.resolver.DisplayName(m.User), req.Text)
	}

	// Thread linkage. rootTS is the timestamp the thread is keyed by, for
	// recording the returned handle.
	rootTS := m.TS
	if m.IsThreadReply() {
		rootTS = m.ThreadTS
		name, terr := s.store.Thread(channel, m.ThreadTS)
		if terr != nil {
			return chat.Message{}, terr
		}
		if name != "" {
			req.Thread = &chat.Thread{Name: name}
		} else {
			// Out-of-order reply: fall back to the root's thread key
			// and accept that the service may start a fresh thread.
			req.Thread = &chat.Thread{ThreadKey: threadKey(channel, m.ThreadTS)}
		}
	} else {
		req.Thread = &chat.Thread{ThreadKey: threadKey(channel, m.TS)}
	}

	sent, err := s.api.CreateMessage(ctx, space, MessageID(channel, m.TS), req)
	if err != nil {
		if retryhttp.IsConflict(err) {
			s.logger.Debug("message already imported", "channel", channel, "ts", m.TS)
			return chat.Message{}, nil
		}
		return chat.Message{}, err
	}

	// Record the thread handle whenever we sent under a thread key, so
	// later replies resolve by name even across process restarts.
	if req.Thread.ThreadKey != "" && sent.Thread.Name != "" {
		if err := s.store.SetThread(channel, rootTS, sent.Thread.Name); err != nil {
			s.logger.Warn("thread mapping persist failed", "channel", channel, "root_ts", rootTS, "error", err)
		}
	}
	return sent, nil
}

func (s *Sequencer) applyReactions(ctx context.Context, channel, messageName string, reactions []export.Reaction) {
	for _, r := range reactions {
		unicode := convert.Emoji(r.Name)
		if unicode == "" {
			s.logger.Debug("dropping unmapped reaction", "channel", channel, "reaction", r.Name)
			continue
		}
		mapped := false
		for _, userID := range r.Users {
			if _, kind := s.resolver.Resolve(userID); kind == identity.KindInternal || kind == identity.KindExternal {
				mapped = true
				break
			}
			s.logger.Debug("dropping reaction from unmapped user", "channel", channel, "user", userID, "reaction", r.Name)
		}
		if !mapped {
			continue
		}
		if err := s.api.CreateReaction(ctx, messageName, unicode); err != nil && !retryhttp.IsConflict(err) {
			s.logger.Warn("reaction failed", "channel", channel, "message", messageName, "reaction", r.Name, "error", err)
		}
	}
}

// MessageID derives the deterministic message identifier from channel and
// timestamp, stable across retries and resumed runs.
func MessageID(channel, ts string) string {
	sum := sha256.Sum256([]byte(channel + "/" + ts))
	return "client-" + hex.EncodeToString(sum[:16])
}

// threadKey derives the deterministic thread key for a thread root.
func threadKey(channel, rootTS string) string {
	sum := sha256.Sum256([]byte(channel + "/thread/" + rootTS))
	return "thread-" + hex.EncodeToString(sum[:16])
}
