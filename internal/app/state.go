package app

// SendState is the phase the progress view is in.
type SendState int

const (
	Sending SendState = iota
	Cancelling
	Finished
)
