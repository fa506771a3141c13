package live

import "time"

// NoticeKind distinguishes the user-visible session conditions. A transient
// fallback, a deliberate session boundary and a dead end must read differently.
type NoticeKind string

const (
	NoticeTryingNext NoticeKind = "trying_next_source"
	NoticeExhausted  NoticeKind = "no_playable_sources"
	NoticeExpired    NoticeKind = "session_time_limit"
)

// Notice is one user-visible condition raised by the controller.
type Notice struct {
	Kind     NoticeKind `json:"kind"`
	SourceID string     `json:"source_id,omitempty"`
	Message  string     `json:"message"`
	At       time.Time  `json:"at"`
}

func (k NoticeKind) message() string {
	switch k {
	case NoticeTryingNext:
		return "trying next source"
	case NoticeExhausted:
		return "no playable sources available"
	case NoticeExpired:
		return "session time limit reached"
	default:
		return string(k)
	}
}
