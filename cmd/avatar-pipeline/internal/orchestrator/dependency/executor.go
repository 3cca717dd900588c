package dependency

import "context"

// DependencyExecutor defines the interface for executing external commands.
//
// Implementations:
//   - LocalExecutor: Executes commands directly using exec.Command
//   - FakeExecutor: Records requests and simulates tools in tests
type DependencyExecutor interface {
	// ExecuteCommand runs a command to completion.
	//
	// A process that starts and exits non-zero yields a response with
	// Success=false and a nil error. The error channel is reserved for faults
	// outside the program itself: the binary cannot be resolved or spawned,
	// the timeout expires, or ctx is cancelled.
	ExecuteCommand(ctx context.Context, req CommandRequest) (CommandResponse, error)

	// HealthCheck verifies that the executor is ready to handle requests.
	// For LocalExecutor, this checks that the configured binaries resolve.
	HealthCheck(ctx context.Context) error
}
