package expreplay

import "errors"

// ExpReplayError implements errors unique to an experience replay
// buffer.
type ExpReplayError struct {
	Op  string
	Err error
}

// Error satisfies the error interface
func (e *ExpReplayError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

var errEmptyBuffer error = errors.New("buffer empty")

var errInsufficientSamples = errors.New("fewer samples than batch size")

var errInvalidIndex = errors.New("index refers to an unoccupied slot")

// IsInsufficientSamples returns whether or not an error reports that
// there are insufficient samples in the buffer to sample from the
// buffer.
//
// A buffer has too few samples to sample if the number of occupied
// slots is less than the sampling batch size.
func IsInsufficientSamples(err error) bool {
	if replayErr, ok := err.(*ExpReplayError); ok {
		err = replayErr.Err
	}
	return err == errInsufficientSamples
}

// IsEmptyBuffer returns whether or not an error reports that a
// replay buffer is empty.
func IsEmptyBuffer(err error) bool {
	if replayErr, ok := err.(*ExpReplayError); ok {
		err = replayErr.Err
	}
	return err == errEmptyBuffer
}

// IsInvalidIndex returns whether or not an error reports that a slot
// index referred to a slot with no stored transition.
func IsInvalidIndex(err error) bool {
	if replayErr, ok := err.(*ExpReplayError); ok {
		err = replayErr.Err
	}
	return err == errInvalidIndex
}
