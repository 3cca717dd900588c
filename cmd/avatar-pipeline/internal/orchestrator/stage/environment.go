package stage

import (
	"fmt"
	"path/filepath"

	"github.com/houzhh15/avatar-pipeline/cmd/avatar-pipeline/internal/config"
	"github.com/houzhh15/avatar-pipeline/cmd/avatar-pipeline/internal/orchestrator/dependency"
)

// Environment describes how a tool's runtime is activated.
type Environment struct {
	CondaScript string // path to conda.sh; skipped when empty
	CondaEnv    string
	CUDARoot    string // directory holding cuda-<version>
	CUDAVersion string // skipped when empty
}

// CUDADir returns <root>/cuda-<version>.
func (e Environment) CUDADir() string {
	return filepath.Join(e.CUDARoot, "cuda-"+e.CUDAVersion)
}

// prepare appends the activation steps in order: conda hook, CUDA paths,
// cd into toolDir, conda activate.
func (e Environment) prepare(script *dependency.Script, toolDir string) error {
	if e.CondaScript != "" {
		script.Cmd("source", e.CondaScript)
	}

	if e.CUDAVersion != "" {
		if !config.ValidCUDAVersion(e.CUDAVersion) {
			return fmt.Errorf("invalid CUDA version %q", e.CUDAVersion)
		}
		dir := dependency.Quote(e.CUDADir())
		script.Raw(fmt.Sprintf("export PATH=%s/bin${PATH:+:${PATH}}", dir))
		script.Raw(fmt.Sprintf("export LD_LIBRARY_PATH=%s/lib64${LD_LIBRARY_PATH:+:${LD_LIBRARY_PATH}}", dir))
	}

	script.Cmd("cd", toolDir)

	if e.CondaEnv != "" {
		script.Cmd("conda", "activate", e.CondaEnv)
	}
	return nil
}
