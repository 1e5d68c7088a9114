package pipeline

import (
	"errors"
	"fmt"

	"github.com/gogpu/grayscott/gpucore"
)

// Pipeline cache errors.
var (
	// ErrProgramNotFound is returned when a program name is missing from
	// the device library.
	ErrProgramNotFound = errors.New("pipeline: program not found in library")

	// ErrSealed is returned when registering after Seal.
	ErrSealed = errors.New("pipeline: cache is sealed")

	// ErrClosed is returned when registering on a closed cache.
	ErrClosed = errors.New("pipeline: cache is closed")
)

// CompilationError reports a program the device rejected.
// Diagnostic holds the device's message.
type CompilationError struct {
	Program    string
	Stage      gpucore.Stage
	Diagnostic string
	Err        error
}

func (e *CompilationError) Error() string {
	return fmt.Sprintf("pipeline: compile %s program %q: %s", e.Stage, e.Program, e.Diagnostic)
}

func (e *CompilationError) Unwrap() error { return e.Err }

// compilationError converts a device error into a CompilationError. The
// program and stage come from a gpucore.ShaderError when the device
// provides one.
func compilationError(prog gpucore.Program, err error) *CompilationError {
	ce := &CompilationError{Program: prog.Name, Stage: prog.Stage, Diagnostic: err.Error(), Err: err}
	var se *gpucore.ShaderError
	if errors.As(err, &se) {
		ce.Program, ce.Stage, ce.Diagnostic = se.Program, se.Stage, se.Diagnostic
	}
	return ce
}
