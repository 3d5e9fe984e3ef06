package migrate

// Phase is a channel's position in the import lifecycle.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseSpaceReady
	PhaseMembersSeeded
	PhaseMessagesReplayed
	PhaseImportCompleted
	PhaseImportSkipped
	PhaseMembersActivated
	PhaseDone
	PhaseAborted
	PhaseSpaceDeleted
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseSpaceReady:
		return "space_ready"
	case PhaseMembersSeeded:
		return "members_seeded"
	case PhaseMessagesReplayed:
		return "messages_replayed"
	case PhaseImportCompleted:
		return "import_completed"
	case PhaseImportSkipped:
		return "import_skipped"
	case PhaseMembersActivated:
		return "members_activated"
	case PhaseDone:
		return "done"
	case PhaseAborted:
		return "aborted"
	case PhaseSpaceDeleted:
		return "space_deleted"
	default:
		return "unknown"
	}
}

// CompletionStrategy decides what happens to import completion when a
// channel had errors.
type CompletionStrategy string

const (
	// SkipOnError leaves the space in import mode when the channel had
	// errors, so a later run can repair it.
	SkipOnError CompletionStrategy = "skip_on_error"
	// ForceComplete completes the import regardless of errors.
	ForceComplete CompletionStrategy = "force_complete"
)
