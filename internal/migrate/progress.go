package migrate

import "sync"

// Progress is a mutex-guarded snapshot of the run, read by the status
// endpoint and the retry layer's log context while the channel loop runs.
type Progress struct {
	mu             sync.Mutex
	runID          string
	currentChannel string
	totalChannels  int
	done           []ChannelState
	finished       bool
}

func NewProgress(runID string, totalChannels int) *Progress {
	return &Progress{runID: runID, totalChannels: totalChannels}
}

// SetTotal records how many channels the run selected.
func (p *Progress) SetTotal(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.totalChannels = n
}

// SetCurrent records the channel now being migrated.
func (p *Progress) SetCurrent(channel string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.currentChannel = channel
}

// CurrentChannel returns the channel now being migrated, or "".
func (p *Progress) CurrentChannel() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentChannel
}

// Record appends a finished channel's state.
func (p *Progress) Record(st ChannelState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done = append(p.done, st)
	p.currentChannel = ""
}

// Finish marks the run complete.
func (p *Progress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finished = true
	p.currentChannel = ""
}

// Snapshot is a point-in-time copy of the run's state, safe to serialize.
type Snapshot struct {
	RunID          string        `json:"run_id"`
	CurrentChannel string        `json:"current_channel,omitempty"`
	TotalChannels  int           `json:"total_channels"`
	Finished       bool          `json:"finished"`
	Channels       []ChannelView `json:"channels"`
}

// ChannelView is the serializable form of a finished channel.
type ChannelView struct {
	Channel   string `json:"channel"`
	Space     string `json:"space,omitempty"`
	Phase     string `json:"phase"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
	Deduped   int    `json:"deduped"`
	Skipped   int    `json:"skipped"`
	HadErrors bool   `json:"had_errors"`
}

// Snapshot copies the current state.
func (p *Progress) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap := Snapshot{
		RunID:          p.runID,
		CurrentChannel: p.currentChannel,
		TotalChannels:  p.totalChannels,
		Finished:       p.finished,
		Channels:       make([]ChannelView, 0, len(p.done)),
	}
	for _, st := range p.done {
		snap.Channels = append(snap.Channels, ChannelView{
			Channel:   st.Channel,
			Space:     st.Space,
			Phase:     st.Phase.String(),
			Processed: st.Processed,
			Failed:    st.Failed,
			Deduped:   st.Deduped,
			Skipped:   st.Skipped,
			HadErrors: st.HadErrors,
		})
	}
	return snap
}
