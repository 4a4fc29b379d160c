package viz

// BatchStats describes one batch for the overview bars.
// Decoupled from session types so viz stays a pure rendering package.
type BatchStats struct {
	Origins  int
	OK       int
	Failed   int
	Metrics  int
	Rows     int
	Selected int // origins in the current selection
}

// Failure is one origin that produced no usable data.
type Failure struct {
	Origin string
	Reason string
}
