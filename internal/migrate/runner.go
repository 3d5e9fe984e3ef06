package migrate

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/nicklamont/slack-chat-migrator/internal/export"
	"github.com/nicklamont/slack-chat-migrator/internal/state"
)

// Publisher emits run lifecycle events. Optional; a nil Publisher disables
// publishing.
type Publisher interface {
	RunStarted(runID string, channels int) error
	ChannelCompleted(runID string, st ChannelView) error
	RunCompleted(runID string, success bool) error
}

// RunResult is what the runner hands back for reporting.
type RunResult struct {
	RunID    string
	Channels []ChannelState
	Aborted  bool
	// Success means every selected channel finished without errors or
	// skips; only then is the checkpoint cleared.
	Success bool
}

// Runner iterates the selected channels through the controller, one at a
// time. Channels are strictly sequential; the per-message pacing inside the
// sequencer is the rate control for the whole run.
type Runner struct {
	archive    *export.Archive
	controller *Controller
	store      *state.Store
	progress   *Progress
	publisher  Publisher
	include    map[string]bool
	exclude    map[string]bool
	logger     *slog.Logger
}

func NewRunner(archive *export.Archive, controller *Controller, store *state.Store, progress *Progress, publisher Publisher, include, exclude []string, logger *slog.Logger) *Runner {
	return &Runner{
		archive:    archive,
		controller: controller,
		store:      store,
		progress:   progress,
		publisher:  publisher,
		include:    toSet(include),
		exclude:    toSet(exclude),
		logger:     logger,
	}
}

// Run migrates every selected channel. Cancellation flushes the checkpoint
// and returns the partial result alongside the context error, so the caller
// can still print a report.
func (r *Runner) Run(ctx context.Context) (RunResult, error) {
	res := RunResult{RunID: r.store.RunID()}

	channels, err := r.selectChannels()
	if err != nil {
		return res, err
	}
	r.progress.SetTotal(len(channels))
	r.logger.Info("run starting", "run_id", res.RunID, "channels", len(channels))
	if r.publisher != nil {
		if perr := r.publisher.RunStarted(res.RunID, len(channels)); perr != nil {
			r.logger.Warn("event publish failed", "event", "run_started", "error", perr)
		}
	}

	for _, ch := range channels {
		if err := ctx.Err(); err != nil {
			return r.finish(res, false), err
		}
		r.progress.SetCurrent(ch.Name)
		r.logger.Info("migrating channel", "channel", ch.Name)

		msgs, err := r.archive.Messages(ch.Name)
		if err != nil {
			return r.finish(res, false), err
		}

		st, err := r.controller.MigrateChannel(ctx, ch, msgs)
		if st != nil {
			res.Channels = append(res.Channels, *st)
			r.progress.Record(*st)
			r.publishChannel(res.RunID, st)
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				_ = r.store.Flush()
			}
			return r.finish(res, false), err
		}
		if r.controller.ShouldAbortRun(st) {
			r.logger.Error("aborting run after channel failures",
				"channel", ch.Name, "failed", st.Failed)
			res.Aborted = true
			return r.finish(res, false), nil
		}
	}

	res.Success = true
	for _, st := range res.Channels {
		if st.HadErrors || st.SkippedChannel || st.ImportIncomplete {
			res.Success = false
			break
		}
	}
	if res.Success {
		if err := r.store.Clear(); err != nil {
			r.logger.Warn("clearing checkpoint failed", "error", err)
		} else {
			r.logger.Info("run fully successful, checkpoint cleared", "run_id", res.RunID)
		}
	}
	return r.finish(res, res.Success), nil
}

func (r *Runner) finish(res RunResult, success bool) RunResult {
	r.progress.Finish()
	if r.publisher != nil {
		if err := r.publisher.RunCompleted(res.RunID, success); err != nil {
			r.logger.Warn("event publish failed", "event", "run_completed", "error", err)
		}
	}
	return res
}

func (r *Runner) publishChannel(runID string, st *ChannelState) {
	if r.publisher == nil {
		return
	}
	view := ChannelView{
		Channel:   st.Channel,
		Space:     st.Space,
		Phase:     st.Phase.String(),
		Processed: st.Processed,
		Failed:    st.Failed,
		Deduped:   st.Deduped,
		Skipped:   st.Skipped,
		HadErrors: st.HadErrors,
	}
	if err := r.publisher.ChannelCompleted(runID, view); err != nil {
		r.logger.Warn("event publish failed", "event", "channel_completed", "channel", st.Channel, "error", err)
	}
}

// selectChannels applies the include/exclude filters to the archive's channel
// list and returns them in name order for a stable run sequence.
func (r *Runner) selectChannels() ([]export.Channel, error) {
	all, err := r.archive.Channels()
	if err != nil {
		return nil, err
	}
	selected := make([]export.Channel, 0, len(all))
	for _, ch := range all {
		if len(r.include) > 0 && !r.include[ch.Name] {
			continue
		}
		if r.exclude[ch.Name] {
			r.logger.Debug("channel excluded", "channel", ch.Name)
			continue
		}
		selected = append(selected, ch)
	}
	sort.Slice(selected, func(i, j int) bool { return selected[i].Name < selected[j].Name })
	return selected, nil
}

func toSet(names []string) map[string]bool {
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}
