package runner

import "fmt"

// LoadError reports generated code that could not be loaded in-process.
type LoadError struct {
	GenerationID string
	Err          error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load generation %s: %v", e.GenerationID, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// SpawnError reports a process that could not be started.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %q: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }
