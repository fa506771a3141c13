package detect

import "time"

// BBox is a normalized bounding rectangle, all values in [0,1] relative to the
// native frame dimensions.
type BBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Event is a single object-detection result for one camera at one instant.
// Events from the push channel and the local stream share this shape and are
// not globally ordered relative to each other.
type Event struct {
	CameraID   string    `json:"camera_id"`
	Timestamp  time.Time `json:"timestamp"`
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	BBox       BBox      `json:"bbox"`
}

// Origin labels for the two source streams feeding the bus.
const (
	OriginPush  = "push"
	OriginLocal = "local"
)
