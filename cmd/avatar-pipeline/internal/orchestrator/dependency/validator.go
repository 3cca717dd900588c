package dependency

import (
	"fmt"
	"os"
	"strings"
)

// ValidateCommandRequest performs sanity checks before command execution.
// It validates:
//  1. Command whitelist (if configured)
//  2. Arguments carry no NUL bytes (they cannot cross the exec boundary)
//  3. The working directory, when set, exists and is a directory
func ValidateCommandRequest(req CommandRequest, config ExecutorConfig) error {
	if req.Command == "" {
		return fmt.Errorf("command cannot be empty")
	}

	// 1. Check command whitelist
	if len(config.AllowedCommands) > 0 {
		allowed := false
		for _, cmd := range config.AllowedCommands {
			if req.Command == cmd {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("command %s is not in whitelist (allowed: %v)", req.Command, config.AllowedCommands)
		}
	}

	// 2. Check argument safety
	for _, arg := range req.Args {
		if strings.ContainsRune(arg, 0) {
			return fmt.Errorf("argument contains a NUL byte: %q", arg)
		}
	}

	// 3. Check working directory (if specified)
	if req.WorkingDir != "" {
		info, err := os.Stat(req.WorkingDir)
		if err != nil {
			return fmt.Errorf("invalid working directory: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("invalid working directory: %s is not a directory", req.WorkingDir)
		}
	}

	return nil
}
