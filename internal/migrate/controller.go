package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nicklamont/slack-chat-migrator/internal/chat"
	"github.com/nicklamont/slack-chat-migrator/internal/export"
	"github.com/nicklamont/slack-chat-migrator/internal/identity"
	"github.com/nicklamont/slack-chat-migrator/internal/membership"
	"github.com/nicklamont/slack-chat-migrator/internal/replay"
	"github.com/nicklamont/slack-chat-migrator/internal/retryhttp"
	"github.com/nicklamont/slack-chat-migrator/internal/state"
)

// leaveGrace is subtracted from "now" when filling the leave time of
// still-active users: the import API requires every historical membership's
// deleteTime to be strictly in the past. Active users are re-added as live
// members after import completion.
const leaveGrace = 5 * time.Second

// ChatAPI is the slice of the chat client the controller needs. The
// sequencer holds its own narrower slice.
type ChatAPI interface {
	CreateSpace(ctx context.Context, req chat.SpaceRequest) (chat.Space, error)
	FindSpace(ctx context.Context, displayName string) (chat.Space, bool, error)
	CompleteImport(ctx context.Context, space string) error
	SetExternalUserAllowed(ctx context.Context, space string, allowed bool) error
	DeleteSpace(ctx context.Context, space string) error
	CreateHistoricalMembership(ctx context.Context, space, email string, createTime, deleteTime time.Time) error
	CreateMembership(ctx context.Context, space, email string) error
}

// MessageReplayer runs the message import sequencer for one channel.
type MessageReplayer interface {
	Replay(ctx context.Context, channel, space string, msgs []export.Message) (replay.Result, error)
}

// ChannelState tracks one channel through a run.
type ChannelState struct {
	Channel          string
	Space            string
	Phase            Phase
	NewlyCreated     bool
	SkippedChannel   bool // space creation denied; channel skipped, run continues
	Processed        int
	Failed           int
	Deduped          int
	Skipped          int
	SeedFailures     int
	HadErrors        bool
	ImportIncomplete bool
	ActiveMembers    []string
	UnmappedUsers    []string
}

// Options are the policy knobs for the controller.
type Options struct {
	UpdateMode         bool
	CompletionStrategy CompletionStrategy
	CleanupOnError     bool
	AbortOnError       bool
}

// Controller drives one channel end to end: space, historical membership,
// message replay, import completion, live-member activation. Non-retryable
// remote failures downgrade the local outcome instead of raising out of the
// channel loop.
type Controller struct {
	api      ChatAPI
	replayer MessageReplayer
	calc     *membership.Calculator
	resolver *identity.Resolver
	store    *state.Store
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

func NewController(api ChatAPI, replayer MessageReplayer, calc *membership.Calculator, resolver *identity.Resolver, store *state.Store, opts Options, logger *slog.Logger) *Controller {
	if opts.CompletionStrategy == "" {
		opts.CompletionStrategy = SkipOnError
	}
	return &Controller{
		api:      api,
		replayer: replayer,
		calc:     calc,
		resolver: resolver,
		store:    store,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// MigrateChannel runs the full lifecycle for one channel. The returned state
// is always non-nil; err is non-nil only for cancellation or state-store
// failures that make continuing pointless.
func (c *Controller) MigrateChannel(ctx context.Context, ch export.Channel, msgs []export.Message) (*ChannelState, error) {
	st := &ChannelState{Channel: ch.Name, Phase: PhaseInit}

	space, isNew, err := c.resolveSpace(ctx, ch, msgs)
	if err != nil {
		if retryhttp.IsPermission(err) {
			// Not fatal to the run: skip this channel, keep going.
			c.logger.Warn("space creation denied, skipping channel", "channel", ch.Name, "error", err)
			st.SkippedChannel = true
			return st, nil
		}
		if ctx.Err() != nil {
			return st, ctx.Err()
		}
		c.logger.Error("space resolution failed", "channel", ch.Name, "error", err)
		st.SkippedChannel = true
		st.HadErrors = true
		return st, nil
	}
	st.Space = space
	st.NewlyCreated = isNew
	st.Phase = PhaseSpaceReady
	if err := c.store.SetSpace(ch.Name, space); err != nil {
		return st, err
	}

	// Historical membership is only seeded into spaces this run created;
	// a reused space already has it.
	if isNew {
		st.SeedFailures, st.UnmappedUsers = c.seedHistoricalMembership(ctx, space, ch, msgs, st)
		st.Phase = PhaseMembersSeeded
	} else {
		records, unmapped := c.calc.Windows(ch, msgs, c.now())
		st.UnmappedUsers = unmapped
		collectActive(st, records)
	}
	if err := c.store.Flush(); err != nil {
		return st, err
	}

	res, replayErr := c.replayer.Replay(ctx, ch.Name, space, msgs)
	st.Processed = res.Processed
	st.Failed = res.Failed
	st.Deduped = res.Deduped
	st.Skipped = res.Skipped
	st.HadErrors = st.HadErrors || res.HadErrors
	st.Phase = PhaseMessagesReplayed
	if replayErr != nil {
		// Cancellation: flush progress and unwind.
		_ = c.store.Flush()
		return st, replayErr
	}

	completed := c.finalizeImport(ctx, space, st, isNew)

	c.activateMembers(ctx, space, st, isNew, completed)

	c.maybeDeleteSpace(ctx, space, st)

	// Terminal phases that describe a degraded outcome are preserved.
	switch st.Phase {
	case PhaseAborted, PhaseSpaceDeleted, PhaseImportSkipped:
	default:
		if !st.ImportIncomplete {
			st.Phase = PhaseDone
		}
	}
	if err := c.store.Flush(); err != nil {
		return st, err
	}
	return st, nil
}

// ShouldAbortRun reports whether the run must stop after this channel. The
// current channel always runs to completion first.
func (c *Controller) ShouldAbortRun(st *ChannelState) bool {
	if c.opts.AbortOnError && st.Failed > 0 {
		st.Phase = PhaseAborted
		return true
	}
	return false
}

// resolveSpace reuses the prior run's space in update mode, otherwise
// creates a new import-mode space tagged with the channel's external-access
// requirement.
func (c *Controller) resolveSpace(ctx context.Context, ch export.Channel, msgs []export.Message) (string, bool, error) {
	displayName := ch.Name

	if c.opts.UpdateMode {
		if space := c.store.Space(ch.Name); space != "" {
			c.logger.Info("reusing space from checkpoint", "channel", ch.Name, "space", space)
			return space, false, nil
		}
		found, ok, err := c.api.FindSpace(ctx, displayName)
		if err != nil {
			return "", false, fmt.Errorf("find space: %w", err)
		}
		if ok {
			c.logger.Info("reusing existing space", "channel", ch.Name, "space", found.Name)
			return found.Name, false, nil
		}
	}

	var createTime time.Time
	if ch.Created > 0 {
		createTime = time.Unix(ch.Created, 0).UTC()
	}
	req := chat.NewSpaceRequest(displayName, c.requiresExternal(ch, msgs), createTime)
	space, err := c.api.CreateSpace(ctx, req)
	if err != nil {
		return "", false, err
	}
	c.logger.Info("space created", "channel", ch.Name, "space", space.Name, "external", req.ExternalUserAllowed)
	return space.Name, true, nil
}

// requiresExternal scans channel members and message senders for any
// identity outside the workspace domain, excluding bot/app identities.
func (c *Controller) requiresExternal(ch export.Channel, msgs []export.Message) bool {
	for _, id := range ch.Members {
		if c.resolver.IsExternal(id) {
			return true
		}
	}
	for _, m := range msgs {
		if m.User != "" && c.resolver.IsExternal(m.User) {
			return true
		}
	}
	return false
}

// seedHistoricalMembership submits one membership window per user. Conflicts
// are success; per-user failures are logged and counted, never abort the
// channel.
func (c *Controller) seedHistoricalMembership(ctx context.Context, space string, ch export.Channel, msgs []export.Message, st *ChannelState) (int, []string) {
	now := c.now()
	records, unmapped := c.calc.Windows(ch, msgs, now)
	collectActive(st, records)

	failures := 0
	for _, rec := range records {
		leave := rec.LeaveTime
		if leave.IsZero() {
			// Still-active users get a leave just in the past; they
			// come back as live members after completion.
			leave = c.now().Add(-leaveGrace)
		}
		join := rec.JoinTime
		if leave.Before(join) {
			leave = join
		}
		err := c.api.CreateHistoricalMembership(ctx, space, rec.Email, join, leave)
		if err != nil && !retryhttp.IsConflict(err) {
			c.logger.Warn("historical membership failed",
				"channel", ch.Name, "user", rec.UserID, "error", err)
			failures++
		}
	}
	c.logger.Info("historical membership seeded",
		"channel", ch.Name, "records", len(records), "failures", failures, "unmapped", len(unmapped))
	return failures, unmapped
}

// finalizeImport completes import mode unless the channel had errors and the
// strategy says to skip. Returns whether completion happened.
func (c *Controller) finalizeImport(ctx context.Context, space string, st *ChannelState, isNew bool) bool {
	if !isNew {
		// A reused space already left import mode in the run that
		// created it.
		return true
	}
	if st.HadErrors && c.opts.CompletionStrategy == SkipOnError {
		c.logger.Warn("skipping import completion, channel had errors", "channel", st.Channel)
		st.Phase = PhaseImportSkipped
		return false
	}
	if err := c.api.CompleteImport(ctx, space); err != nil {
		// Recorded for the report; never retried automatically.
		c.logger.Error("import completion failed", "channel", st.Channel, "error", err)
		st.ImportIncomplete = true
		return false
	}
	st.Phase = PhaseImportCompleted
	return true
}

// activateMembers re-adds currently-active users as live members. For
// reused spaces this always runs, even after replay errors: existing members
// must not lose access because new messages failed.
func (c *Controller) activateMembers(ctx context.Context, space string, st *ChannelState, isNew, completed bool) {
	if isNew && !completed {
		c.logger.Warn("skipping member activation, import not completed", "channel", st.Channel)
		return
	}
	if len(st.ActiveMembers) == 0 {
		return
	}

	// Import completion can silently reset the external-access flag;
	// re-assert it before adding anyone who needs it.
	needsExternal := false
	for _, id := range st.ActiveMembers {
		if c.resolver.IsExternal(id) {
			needsExternal = true
			break
		}
	}
	if needsExternal {
		if err := c.api.SetExternalUserAllowed(ctx, space, true); err != nil {
			c.logger.Warn("re-enabling external access failed", "channel", st.Channel, "error", err)
		}
	}

	added, failures := 0, 0
	for _, id := range st.ActiveMembers {
		email, kind := c.resolver.Resolve(id)
		if kind != identity.KindInternal && kind != identity.KindExternal {
			continue
		}
		err := c.api.CreateMembership(ctx, space, email)
		if err != nil && !retryhttp.IsConflict(err) {
			c.logger.Warn("member activation failed", "channel", st.Channel, "user", id, "error", err)
			failures++
			continue
		}
		added++
	}
	c.logger.Info("members activated", "channel", st.Channel, "added", added, "failures", failures)
	if failures == 0 {
		st.Phase = PhaseMembersActivated
	}
}

// maybeDeleteSpace removes a partially-imported space when cleanup-on-error
// is enabled. Deletion failure is logged, not propagated: a half-cleaned
// space is an acceptable end state for an operator to resolve.
func (c *Controller) maybeDeleteSpace(ctx context.Context, space string, st *ChannelState) {
	if !c.opts.CleanupOnError || !st.HadErrors {
		return
	}
	if err := c.api.DeleteSpace(ctx, space); err != nil {
		c.logger.Warn("space deletion failed", "channel", st.Channel, "space", space, "error", err)
		return
	}
	c.logger.Info("deleted partially-imported space", "channel", st.Channel, "space", space)
	st.Phase = PhaseSpaceDeleted
}

func collectActive(st *ChannelState, records []membership.Record) {
	for _, rec := range records {
		if rec.IsActive {
			st.ActiveMembers = append(st.ActiveMembers, rec.UserID)
		}
	}
}
