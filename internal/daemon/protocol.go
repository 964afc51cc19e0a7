// Package daemon provides the client and protocol types for talking to a
// steno recognition daemon over a Unix socket using NDJSON.
package daemon

// Command names understood by the daemon.
const (
	CmdStart     = "start"
	CmdStop      = "stop"
	CmdStatus    = "status"
	CmdSubscribe = "subscribe"
)

// Event names streamed by the daemon.
const (
	EventPartial = "partial"
	EventSegment = "segment"
	EventResult  = "result"
	EventStatus  = "status"
	EventError   = "error"
)

// Command is sent from a client to the daemon.
type Command struct {
	Cmd    string   `json:"cmd"`
	Locale string   `json:"locale,omitempty"`
	Device string   `json:"device,omitempty"`
	Events []string `json:"events,omitempty"`
}

// Response is returned by the daemon after processing a command.
type Response struct {
	OK        bool   `json:"ok"`
	SessionID string `json:"sessionId,omitempty"`
	Recording *bool  `json:"recording,omitempty"`
	Error     string `json:"error,omitempty"`
	Status    string `json:"status,omitempty"`
	Device    string `json:"device,omitempty"`
}

// Fragment is one recognizer result inside a "result" event.
type Fragment struct {
	Text        string `json:"text"`
	IsFinal     bool   `json:"isFinal"`
	ResultIndex int    `json:"resultIndex"`
}

// Event is streamed from the daemon to subscribed clients.
//
// "partial" and "segment" carry a single interim or final text; "result"
// carries an ordered batch of fragments.
type Event struct {
	Event          string     `json:"event"`
	Text           string     `json:"text,omitempty"`
	Source         string     `json:"source,omitempty"`
	SessionID      string     `json:"sessionId,omitempty"`
	SequenceNumber *int       `json:"sequenceNumber,omitempty"`
	Fragments      []Fragment `json:"fragments,omitempty"`
	Message        string     `json:"message,omitempty"`
	Transient      *bool      `json:"transient,omitempty"`
	Recording      *bool      `json:"recording,omitempty"`
}

// BoolPtr returns a pointer to a bool value. Convenience for building events.
func BoolPtr(b bool) *bool { return &b }

// IntPtr returns a pointer to an int value.
func IntPtr(i int) *int { return &i }
