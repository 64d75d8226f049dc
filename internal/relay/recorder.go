package relay

// Drop reasons reported to Recorder.EventDropped.
const (
	DropFiltered    = "filtered"
	DropParse       = "parse"
	DropValidate    = "validate"
	DropUnknownType = "unknown_type"
)

// Session end reasons reported to Recorder.SessionEnded.
const (
	EndDialFailed   = "dial_failed"
	EndUpstream     = "upstream"
	EndGraceExpired = "grace_expired"
	EndShutdown     = "shutdown"
)

// Recorder receives relay observations. Implementations must be safe for
// concurrent use and must not block.
type Recorder interface {
	StateChanged(state State)
	SubscribersChanged(count int)
	EventRelayed(subscribers int)
	EventDropped(reason string)
	EventEvicted()
	EventDelivered()
	KeepAliveSent()
	SessionEnded(reason string)
}

type nopRecorder struct{}

func (nopRecorder) StateChanged(State)     {}
func (nopRecorder) SubscribersChanged(int) {}
func (nopRecorder) EventRelayed(int)       {}
func (nopRecorder) EventDropped(string)    {}
func (nopRecorder) EventEvicted()          {}
func (nopRecorder) EventDelivered()        {}
func (nopRecorder) KeepAliveSent()         {}
func (nopRecorder) SessionEnded(string)    {}
