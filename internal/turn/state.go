package turn

// State is the controller's position in the listen, think, speak cycle.
type State int

const (
	StateIdle State = iota
	StateListening
	StateTranscribing
	StateGenerating
	StateSpeaking
	StateShutdown
)

var stateNames = [...]string{"idle", "listening", "transcribing", "generating", "speaking", "shutdown"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Status is a point-in-time view of the controller.
type Status struct {
	State      State  `json:"state"`
	Turns      int    `json:"turns"`
	NPast      int    `json:"n_past"`
	Persisting bool   `json:"session_persistence"`
	Online     bool   `json:"network_online"`
	LastTurnID string `json:"last_turn_id,omitempty"`
	LastHeard  string `json:"last_heard,omitempty"`
	LastReply  string `json:"last_reply,omitempty"`
}
