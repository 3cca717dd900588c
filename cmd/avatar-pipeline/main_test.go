package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzhh15/avatar-pipeline/cmd/avatar-pipeline/internal/config"
	"github.com/houzhh15/avatar-pipeline/cmd/avatar-pipeline/internal/orchestrator"
	"github.com/houzhh15/avatar-pipeline/cmd/avatar-pipeline/internal/orchestrator/audio"
	"github.com/houzhh15/avatar-pipeline/cmd/avatar-pipeline/internal/workspace"
)

func newTestRoot(sub *cobra.Command) *cobra.Command {
	root := &cobra.Command{Use: "avatar-pipeline", SilenceUsage: true, SilenceErrors: true}
	addGlobalFlags(root)
	root.AddCommand(sub)
	return root
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig_FlagsOverrideFileAndEnv(t *testing.T) {
	path := writeConfig(t, "log:\n  level: warn\npaths:\n  pipeline_dir: /from/file\n")
	t.Setenv("AVATAR_LOG_LEVEL", "error")
	t.Setenv("AVATAR_PIPELINE_DIR", "/from/env")

	var got *config.Config
	probe := &cobra.Command{
		Use: "probe",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			got, err = loadConfig(cmd)
			return err
		},
	}
	root := newTestRoot(probe)
	root.SetArgs([]string{"probe", "--config", path, "--log-level", "debug"})

	require.NoError(t, root.Execute())
	assert.Equal(t, "debug", got.Log.Level, "flag wins over env and file")
	assert.Equal(t, "/from/env", got.Paths.PipelineDir, "env wins over file")
}

func TestLoadConfig_InvalidFlagValue(t *testing.T) {
	probe := &cobra.Command{
		Use:  "probe",
		RunE: func(cmd *cobra.Command, args []string) error { _, err := loadConfig(cmd); return err },
	}
	root := newTestRoot(probe)
	root.SetArgs([]string{"probe", "--config", writeConfig(t, "{}\n"), "--cuda-version", "12;ls"})

	err := root.Execute()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "cuda_version")
}

func TestConfigShow_MasksAPIKey(t *testing.T) {
	t.Setenv("ELEVENLABS_API_KEY", "sk-abcdefghijklmnop")
	root := newTestRoot(newConfigCmd())
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"config", "show", "--config", writeConfig(t, "{}\n")})

	require.NoError(t, root.Execute())
	assert.NotContains(t, out.String(), "sk-abcdefghijklmnop")
	assert.Contains(t, out.String(), "voice_id")
}

func TestHistory_ReadsRunLog(t *testing.T) {
	dir := t.TempDir()
	log := "2024-05-01_10-00-00: hello.wav, face.png, hello-face_20240501-100000.mp4\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "output_list.log"), []byte(log), 0o644))

	root := newTestRoot(newHistoryCmd())
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"history", "--config", writeConfig(t, "{}\n"), "--pipeline-dir", dir})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "hello.wav, face.png, hello-face_20240501-100000.mp4")
	assert.Contains(t, out.String(), "2024-05-01 10:00:00")
}

func TestInputsReady(t *testing.T) {
	dir := t.TempDir()
	ready := inputsReady(dir, []string{".mp3"})

	assert.False(t, ready())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "face.png"), []byte("x"), 0o644))
	assert.False(t, ready(), "image alone is not enough")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "voice.mp3"), []byte("x"), 0o644))
	assert.True(t, ready(), "convertible source counts as audio")

	assert.False(t, inputsReady(filepath.Join(dir, "missing"), nil)())
}

func TestRunLogPath(t *testing.T) {
	cfg := config.Default()
	paths := &workspace.PipelinePaths{PipelineDir: "/work"}

	assert.Equal(t, "/work/output_list.log", runLogPath(cfg, paths))

	cfg.Audit.RunLog = "/var/log/runs.csv"
	assert.Equal(t, "/var/log/runs.csv", runLogPath(cfg, paths))
}

func TestExecutorConfig(t *testing.T) {
	cfg := config.Default()
	ec := executorConfig(cfg)
	assert.Empty(t, ec.LocalBinaryPaths)
	assert.ElementsMatch(t, []string{"ffmpeg", "bash"}, ec.AllowedCommands)

	cfg.Environment.FFmpeg = "/opt/ffmpeg/bin/ffmpeg"
	assert.Equal(t, "/opt/ffmpeg/bin/ffmpeg", executorConfig(cfg).LocalBinaryPaths["ffmpeg"])
}

func TestPrintRunResult(t *testing.T) {
	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	res := &orchestrator.RunResult{
		RunID:      "run-7",
		Audio:      "hello.wav",
		Image:      "face.png",
		Output:     "/out/hello-face_20240501-100312.mp4",
		Preprocess: audio.Report{Converted: []string{"hello.mp3", "intro.mp3"}},
		StartedAt:  started,
		FinishedAt: started.Add(3*time.Minute + 12*time.Second),
	}

	var out bytes.Buffer
	printRunResult(&out, res)

	assert.Contains(t, out.String(), "run-7")
	assert.Contains(t, out.String(), "/out/hello-face_20240501-100312.mp4")
	assert.Contains(t, out.String(), "3m12s")
	assert.Contains(t, out.String(), "2 audio file(s)")
}

func TestPrintRunResult_NothingConverted(t *testing.T) {
	var out bytes.Buffer
	printRunResult(&out, &orchestrator.RunResult{RunID: "run-8", Output: "/out/v.mp4"})

	assert.Contains(t, out.String(), "/out/v.mp4")
	assert.NotContains(t, out.String(), "Converted")
}

// slowStopRunner blocks until cancelled, then takes a while to wind down,
// like a tool that ignores SIGTERM.
type slowStopRunner struct {
	started  chan struct{}
	stopping time.Duration
	finished atomic.Bool
}

func (r *slowStopRunner) Run(ctx context.Context) (*orchestrator.RunResult, error) {
	close(r.started)
	<-ctx.Done()
	time.Sleep(r.stopping)
	r.finished.Store(true)
	return nil, errors.New("stage interrupted")
}

func TestRunWatch_WaitsForActiveRunOnShutdown(t *testing.T) {
	inputDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(inputDir, "voice.wav"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(inputDir, "face.png"), []byte("x"), 0o644))

	cfg := config.Default()
	cfg.Watch.Settle = config.Duration(50 * time.Millisecond)

	var logs bytes.Buffer
	a := &app{
		cfg:    cfg,
		logger: slog.New(slog.NewTextHandler(&logs, nil)),
		paths:  &workspace.PipelinePaths{InputDir: inputDir},
	}
	runner := &slowStopRunner{started: make(chan struct{}), stopping: 300 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	returned := make(chan error, 1)
	go func() { returned <- runWatch(ctx, a, runner) }()

	select {
	case <-runner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("run was not started for inputs already present")
	}
	cancel()

	select {
	case err := <-returned:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runWatch did not return")
	}

	assert.True(t, runner.finished.Load(), "runWatch returned before the active run stopped")
	assert.Contains(t, logs.String(), "Run failed, inputs left in place")
	assert.Contains(t, logs.String(), "Watcher stopped")
}
