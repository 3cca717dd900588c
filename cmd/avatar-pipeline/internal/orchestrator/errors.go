package orchestrator

import (
	"fmt"
	"strings"
	"time"
)

// ErrorCode classifies a fatal pipeline failure.
type ErrorCode string

const (
	// DIRECTORY_NOT_FOUND a tool installation or working directory is missing
	DIRECTORY_NOT_FOUND ErrorCode = "DIRECTORY_NOT_FOUND"

	// NO_INPUT_FILE the input directory lacks an audio or an image file
	NO_INPUT_FILE ErrorCode = "NO_INPUT_FILE"

	// EXTERNAL_PROCESS_FAILED a generative tool exited non-zero or could not run
	EXTERNAL_PROCESS_FAILED ErrorCode = "EXTERNAL_PROCESS_FAILED"

	// NO_OUTPUT_ARTIFACT a tool finished but its output could not be found
	NO_OUTPUT_ARTIFACT ErrorCode = "NO_OUTPUT_ARTIFACT"

	// RENAME_FAILED a located artifact could not be renamed or relocated
	RENAME_FAILED ErrorCode = "RENAME_FAILED"

	// DISK_FULL free space is below the configured minimum
	DISK_FULL ErrorCode = "DISK_FULL"

	// ENV_NOT_READY the tool environment is misconfigured
	ENV_NOT_READY ErrorCode = "ENV_NOT_READY"
)

// PipelineError is a fatal pipeline failure.
type PipelineError struct {
	Code      ErrorCode `json:"code"`
	Stage     string    `json:"stage,omitempty"`
	Message   string    `json:"message"`
	ExitCode  int       `json:"exit_code,omitempty"`
	Stderr    string    `json:"stderr,omitempty"`
	Cause     error     `json:"-"`
	Timestamp time.Time `json:"timestamp"`
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", e.Code)
	if e.Stage != "" {
		fmt.Fprintf(&b, " %s:", e.Stage)
	}
	b.WriteString(" " + e.Message)
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap exposes the cause to errors.Is and errors.As.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// NewPipelineError creates a new pipeline error.
func NewPipelineError(code ErrorCode, stage, message string, cause error) *PipelineError {
	return &PipelineError{
		Code:      code,
		Stage:     stage,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
	}
}

// NewDirectoryNotFoundError wraps a directory resolution failure.
func NewDirectoryNotFoundError(cause error) *PipelineError {
	return NewPipelineError(DIRECTORY_NOT_FOUND, "", "required directory not found", cause)
}

// NewNoInputFileError wraps an input selection failure.
func NewNoInputFileError(cause error) *PipelineError {
	return NewPipelineError(NO_INPUT_FILE, "", "input audio and image are both required", cause)
}

// NewExternalProcessError reports a tool that exited non-zero. stderr is kept verbatim.
func NewExternalProcessError(stage string, exitCode int, stderr string) *PipelineError {
	e := NewPipelineError(EXTERNAL_PROCESS_FAILED, stage, fmt.Sprintf("external process exited with code %d", exitCode), nil)
	e.ExitCode = exitCode
	e.Stderr = stderr
	return e
}

// NewProcessStartError reports a tool that could not be run to completion.
func NewProcessStartError(stage string, cause error) *PipelineError {
	e := NewPipelineError(EXTERNAL_PROCESS_FAILED, stage, "external process did not complete", cause)
	e.ExitCode = -1
	return e
}

// NewNoOutputArtifactError wraps a locator failure.
func NewNoOutputArtifactError(stage string, cause error) *PipelineError {
	return NewPipelineError(NO_OUTPUT_ARTIFACT, stage, "no output artifact found", cause)
}

// NewRenameError wraps a rename or relocation failure.
func NewRenameError(stage string, cause error) *PipelineError {
	return NewPipelineError(RENAME_FAILED, stage, "failed to rename artifact", cause)
}

// NewDiskFullError reports insufficient free space under path.
func NewDiskFullError(path string, freeMB, minMB uint64) *PipelineError {
	msg := fmt.Sprintf("insufficient disk space at %s: %d MB free, %d MB required", path, freeMB, minMB)
	return NewPipelineError(DISK_FULL, "", msg, nil)
}

// NewEnvNotReadyError reports a misconfigured environment.
func NewEnvNotReadyError(stage string, cause error) *PipelineError {
	return NewPipelineError(ENV_NOT_READY, stage, "environment not ready", cause)
}
