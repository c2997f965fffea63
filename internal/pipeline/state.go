package pipeline

// State is a step of the per-request state machine.
type State string

// Request states in the order a successful request visits them.
const (
	StateSelectProvider      State = "SELECT_PROVIDER"
	StateChunk               State = "CHUNK"
	StateSynthesizeEachChunk State = "SYNTHESIZE_EACH_CHUNK"
	StateStitch              State = "STITCH"
	StateUpload              State = "UPLOAD"
	StateDone                State = "DONE"
	StateError               State = "ERROR"
)

// Terminal reports whether the request has finished.
func (s State) Terminal() bool {
	return s == StateDone || s == StateError
}
