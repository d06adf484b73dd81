package session

import (
	"errors"
	"fmt"

	"github.com/leapstack-labs/leapdash/internal/artifact"
	"github.com/leapstack-labs/leapdash/internal/dataset"
	"github.com/leapstack-labs/leapdash/internal/llm"
)

// User-visible messages.
const (
	BusyMessage        = "A dashboard is already being generated."
	NoInputMessage     = "Please upload a CSV file first."
	UnavailableMessage = "The model is unavailable. Check that the model server is running and the model is installed."
	TimeoutMessage     = "The model did not respond in time. Please try again."
	ParseMessage       = "Failed to read the uploaded CSV file."
	WriteMessage       = "Failed to save the generated app."
)

var (
	// ErrBusy rejects a generate request while another one is running.
	ErrBusy = errors.New("generation already in progress")

	// ErrNoInput rejects a generate request before any file was uploaded.
	ErrNoInput = errors.New("no dataset uploaded")

	// ErrClosed is returned by a session after Close.
	ErrClosed = errors.New("session closed")
)

// Message converts a pipeline failure into the single string shown to the
// user. Errors are otherwise kept typed until they reach this boundary.
func Message(err error) string {
	var (
		parseErr *dataset.ParseError
		writeErr *artifact.WriteError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBusy):
		return BusyMessage
	case errors.Is(err, ErrNoInput):
		return NoInputMessage
	case errors.Is(err, llm.ErrModelTimeout):
		return TimeoutMessage
	case errors.Is(err, llm.ErrModelUnavailable):
		return UnavailableMessage
	case errors.As(err, &parseErr), errors.Is(err, dataset.ErrEmpty):
		return ParseMessage
	case errors.As(err, &writeErr):
		return WriteMessage
	default:
		return fmt.Sprintf("Something went wrong: %v", err)
	}
}
