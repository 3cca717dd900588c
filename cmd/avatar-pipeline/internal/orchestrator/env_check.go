package orchestrator

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/houzhh15/avatar-pipeline/cmd/avatar-pipeline/internal/config"
	"github.com/houzhh15/avatar-pipeline/cmd/avatar-pipeline/internal/orchestrator/stage"
	"github.com/houzhh15/avatar-pipeline/cmd/avatar-pipeline/internal/workspace"
)

// lookPath is replaced in tests.
var lookPath = exec.LookPath

// CheckStatus is the outcome of one environment check.
type CheckStatus string

const (
	CheckOK      CheckStatus = "ok"
	CheckWarning CheckStatus = "warning"
	CheckIssue   CheckStatus = "issue"
)

// Check is one line of the environment report.
type Check struct {
	Name   string      `json:"name"`
	Status CheckStatus `json:"status"`
	Detail string      `json:"detail"`
}

// EnvironmentStatus is the overall environment state.
type EnvironmentStatus struct {
	Ready    bool     `json:"ready"`
	Checks   []Check  `json:"checks"`
	Issues   []string `json:"issues"`
	Warnings []string `json:"warnings"`
}

func (s *EnvironmentStatus) add(name string, status CheckStatus, detail string) {
	s.Checks = append(s.Checks, Check{Name: name, Status: status, Detail: detail})
	switch status {
	case CheckIssue:
		s.Ready = false
		s.Issues = append(s.Issues, fmt.Sprintf("%s: %s", name, detail))
	case CheckWarning:
		s.Warnings = append(s.Warnings, fmt.Sprintf("%s: %s", name, detail))
	}
}

// Get returns the check with the given name.
func (s *EnvironmentStatus) Get(name string) (Check, bool) {
	for _, c := range s.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return Check{}, false
}

// CheckEnvironment runs every environment check without starting a tool.
func CheckEnvironment(cfg *config.Config) *EnvironmentStatus {
	status := &EnvironmentStatus{
		Ready:    true,
		Checks:   []Check{},
		Issues:   []string{},
		Warnings: []string{},
	}

	pipelineDir := cfg.Paths.PipelineDir
	if pipelineDir == "" {
		pipelineDir, _ = os.Getwd()
	}
	roots := workspace.SearchPaths(cfg.Paths.HomeDir, pipelineDir, cfg.Paths.SearchRoots)

	// 1. Tool installations and their inference scripts
	tools := []struct {
		name, dir, script, cuda string
	}{
		{stage.NameSadTalker, cfg.SadTalker.DirName, cfg.SadTalker.Script, cfg.CUDAVersion(cfg.SadTalker.CUDAVersion)},
		{stage.NameLivePortrait, cfg.LivePortrait.DirName, cfg.LivePortrait.Script, cfg.CUDAVersion(cfg.LivePortrait.CUDAVersion)},
	}
	for _, tool := range tools {
		dir, err := workspace.FindDirectory(tool.dir, roots)
		if err != nil {
			status.add(tool.name+" directory", CheckIssue, err.Error())
			continue
		}
		status.add(tool.name+" directory", CheckOK, dir)

		script := filepath.Join(dir, tool.script)
		if _, err := os.Stat(script); err != nil {
			status.add(tool.name+" script", CheckIssue, fmt.Sprintf("missing %s", script))
		} else {
			status.add(tool.name+" script", CheckOK, script)
		}

		// 2. CUDA toolkit (the tools can still run on CPU)
		if !config.ValidCUDAVersion(tool.cuda) {
			status.add(tool.name+" cuda", CheckIssue, fmt.Sprintf("invalid version %q", tool.cuda))
			continue
		}
		cudaDir := stage.Environment{CUDARoot: cfg.Environment.CUDARoot, CUDAVersion: tool.cuda}.CUDADir()
		if info, err := os.Stat(cudaDir); err != nil || !info.IsDir() {
			status.add(tool.name+" cuda", CheckWarning, fmt.Sprintf("%s not found", cudaDir))
		} else {
			status.add(tool.name+" cuda", CheckOK, cudaDir)
		}
	}

	// 3. Conda activation hook
	if cfg.Environment.CondaScript != "" {
		if _, err := os.Stat(cfg.Environment.CondaScript); err != nil {
			status.add("conda", CheckIssue, fmt.Sprintf("missing %s", cfg.Environment.CondaScript))
		} else {
			status.add("conda", CheckOK, cfg.Environment.CondaScript)
		}
	}

	// 4. Binaries on PATH
	for _, bin := range []string{cfg.Environment.Shell, cfg.Environment.FFmpeg} {
		if path, err := lookPath(bin); err != nil {
			status.add(bin, CheckIssue, "not found in PATH")
		} else {
			status.add(bin, CheckOK, path)
		}
	}

	// 5. Stage A template image (falls back to the input portrait)
	template := cfg.SadTalker.TemplateImage
	if template != "" && !filepath.IsAbs(template) {
		template = filepath.Join(pipelineDir, template)
	}
	if _, err := os.Stat(template); err != nil {
		status.add("template image", CheckWarning, fmt.Sprintf("%s not found, the input portrait will be used", template))
	} else {
		status.add("template image", CheckOK, template)
	}

	// 6. Disk space
	if err := CheckDiskSpace(pipelineDir, cfg.Values.MinFreeMB); err != nil {
		status.add("disk space", CheckIssue, err.Error())
	} else {
		status.add("disk space", CheckOK, fmt.Sprintf("at least %d MB free", cfg.Values.MinFreeMB))
	}

	return status
}

// FreeDiskMB returns the space available to unprivileged users on the
// filesystem holding path.
func FreeDiskMB(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	return uint64(st.Bavail) * uint64(st.Bsize) / (1024 * 1024), nil
}

// CheckDiskSpace returns a DISK_FULL error when path has less than minFreeMB
// available. A non-positive minimum disables the check.
func CheckDiskSpace(path string, minFreeMB int) error {
	if minFreeMB <= 0 {
		return nil
	}
	free, err := FreeDiskMB(path)
	if err != nil {
		return NewEnvNotReadyError("", err)
	}
	if free < uint64(minFreeMB) {
		return NewDiskFullError(path, free, uint64(minFreeMB))
	}
	return nil
}
