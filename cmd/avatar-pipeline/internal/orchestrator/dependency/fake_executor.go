package dependency

import (
	"context"
	"sync"
)

// FakeExecutor is a DependencyExecutor test double. It records every request
// and answers from OnExecute when set, otherwise from the preset response.
// OnExecute can simulate a tool by writing files before returning.
type FakeExecutor struct {
	mu sync.Mutex

	// ResponseToReturn is the preset response returned by ExecuteCommand.
	ResponseToReturn CommandResponse

	// ErrorToReturn is the preset error returned by ExecuteCommand and HealthCheck.
	ErrorToReturn error

	// OnExecute, when non-nil, replaces the preset response and error.
	OnExecute func(req CommandRequest) (CommandResponse, error)

	// ExecutedCommands records all commands that were executed, for assertion purposes.
	ExecutedCommands []CommandRequest

	// HealthCheckCalled tracks whether HealthCheck was called.
	HealthCheckCalled bool
}

// ExecuteCommand records the command and returns the simulated result.
func (f *FakeExecutor) ExecuteCommand(ctx context.Context, req CommandRequest) (CommandResponse, error) {
	f.mu.Lock()
	f.ExecutedCommands = append(f.ExecutedCommands, req)
	hook := f.OnExecute
	resp, err := f.ResponseToReturn, f.ErrorToReturn
	f.mu.Unlock()

	if hook != nil {
		return hook(req)
	}
	return resp, err
}

// HealthCheck records the call and returns the preset error.
func (f *FakeExecutor) HealthCheck(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.HealthCheckCalled = true
	return f.ErrorToReturn
}

// Commands returns a snapshot of the recorded requests.
func (f *FakeExecutor) Commands() []CommandRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]CommandRequest(nil), f.ExecutedCommands...)
}

// Succeeded is a successful response with the given stdout.
func Succeeded(stdout string) CommandResponse {
	return CommandResponse{Success: true, Stdout: stdout}
}

// Failed is a non-zero exit response with the given stderr.
func Failed(exitCode int, stderr string) CommandResponse {
	return CommandResponse{ExitCode: exitCode, Stderr: stderr}
}
