package volio

import "fmt"

// Stage names the step of a read or write that failed.
type Stage string

// Pipeline stages that can fail. Geometry finalization and sanitation
// always succeed on read: unusable orientation falls back to the default
// frame and non-finite voxels are zeroed.
const (
	StageResolve  Stage = "resolve"
	StageAssemble Stage = "assemble"
	StageHeader   Stage = "header"
	StagePayload  Stage = "payload"
	StageWrite    Stage = "write"
	StageSidecar  Stage = "sidecar"
)

// StageError wraps every error returned by Read, ReadHeader and Write.
type StageError struct {
	Stage Stage
	Path  string
	Err   error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	return fmt.Sprintf("volio %s %s: %v", e.Stage, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *StageError) Unwrap() error { return e.Err }
