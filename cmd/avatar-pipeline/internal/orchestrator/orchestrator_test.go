package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzhh15/avatar-pipeline/cmd/avatar-pipeline/internal/audit"
	"github.com/houzhh15/avatar-pipeline/cmd/avatar-pipeline/internal/config"
	"github.com/houzhh15/avatar-pipeline/cmd/avatar-pipeline/internal/orchestrator/artifact"
	"github.com/houzhh15/avatar-pipeline/cmd/avatar-pipeline/internal/orchestrator/dependency"
	"github.com/houzhh15/avatar-pipeline/cmd/avatar-pipeline/internal/orchestrator/inputs"
	"github.com/houzhh15/avatar-pipeline/cmd/avatar-pipeline/internal/utils"
	"github.com/houzhh15/avatar-pipeline/cmd/avatar-pipeline/internal/workspace"
	"github.com/houzhh15/avatar-pipeline/pkg/logger"
)

var fixedNow = time.Date(2026, 10, 19, 12, 30, 45, 0, time.Local)

// fixture is a pipeline working tree with both tool installations next to it.
type fixture struct {
	cfg    *config.Config
	paths  *workspace.PipelinePaths
	exec   *dependency.FakeExecutor
	runLog *audit.RunLog
	p      *Pipeline

	// stage behaviour, replaced per test
	sadTalker    func(req dependency.CommandRequest) (dependency.CommandResponse, error)
	livePortrait func(req dependency.CommandRequest) (dependency.CommandResponse, error)
}

func newFixture(t *testing.T, inputFiles ...string) *fixture {
	t.Helper()
	root := t.TempDir()
	pipeline := filepath.Join(root, "avatar_pipeline")
	for _, dir := range []string{
		filepath.Join(root, "SadTalker"),
		filepath.Join(root, "LivePortrait"),
		filepath.Join(pipeline, "input"),
	} {
		require.NoError(t, os.MkdirAll(dir, 0o755))
	}
	for _, name := range inputFiles {
		require.NoError(t, os.WriteFile(filepath.Join(pipeline, "input", name), []byte(name), 0o644))
	}

	cfg := config.Default()
	cfg.Paths.HomeDir = root
	cfg.Paths.PipelineDir = pipeline
	cfg.Environment.CondaScript = ""
	cfg.Audit.RunLog = filepath.Join(pipeline, "output_list.log")

	paths, err := workspace.Resolve(cfg, "", "")
	require.NoError(t, err)

	f := &fixture{cfg: cfg, paths: paths, runLog: audit.NewRunLog(cfg.Audit.RunLog)}
	f.sadTalker = f.sadTalkerWrites("2026_10_19_12.30.45.mp4")
	f.livePortrait = f.livePortraitWrites(true)
	f.exec = &dependency.FakeExecutor{OnExecute: f.dispatch}

	client := dependency.NewClientWithExecutor(f.exec, dependency.ExecutorConfig{}, logger.Discard())
	f.p = New(cfg, paths, client, f.runLog, logger.Discard()).WithClock(func() time.Time { return fixedNow })
	f.p.newRunID = func() string { return "run-1" }
	f.p.diskCheck = func(string, int) error { return nil }
	return f
}

func (f *fixture) dispatch(req dependency.CommandRequest) (dependency.CommandResponse, error) {
	switch {
	case req.Command == "ffmpeg":
		out := req.Args[len(req.Args)-1]
		if err := os.WriteFile(out, []byte("wav"), 0o644); err != nil {
			return dependency.Failed(1, err.Error()), nil
		}
		return dependency.Succeeded(""), nil
	case strings.Contains(req.Args[1], "--driven_audio"):
		return f.sadTalker(req)
	default:
		return f.livePortrait(req)
	}
}

// sadTalkerWrites simulates stage A writing name into the intermediate directory.
func (f *fixture) sadTalkerWrites(name string) func(dependency.CommandRequest) (dependency.CommandResponse, error) {
	return func(dependency.CommandRequest) (dependency.CommandResponse, error) {
		if err := os.WriteFile(filepath.Join(f.paths.IntermediateDir, name), []byte("stage-a"), 0o644); err != nil {
			return dependency.Failed(1, err.Error()), nil
		}
		return dependency.Succeeded("The generated video is named " + name), nil
	}
}

// livePortraitWrites simulates stage B naming its output "{image}--{driver}.mp4"
// next to a concatenated preview.
func (f *fixture) livePortraitWrites(named bool) func(dependency.CommandRequest) (dependency.CommandResponse, error) {
	return func(dependency.CommandRequest) (dependency.CommandResponse, error) {
		driving, err := utils.ListFilesByModTime(f.paths.IntermediateDir, utils.HasExtension(".mp4"))
		if err != nil || len(driving) == 0 {
			return dependency.Failed(1, "no driving video"), nil
		}
		out := f.paths.LivePortraitOutputDir
		stem := "face--" + driving[0].Stem()
		if !named {
			stem = "unrelated"
		}
		os.WriteFile(filepath.Join(out, stem+"_concat.mp4"), []byte("preview"), 0o644)
		os.WriteFile(filepath.Join(out, stem+".mp4"), []byte("final"), 0o644)
		return dependency.Succeeded("Animated video: " + stem + ".mp4"), nil
	}
}

func (f *fixture) bashCommands() []dependency.CommandRequest {
	var out []dependency.CommandRequest
	for _, req := range f.exec.Commands() {
		if req.Command == "bash" {
			out = append(out, req)
		}
	}
	return out
}

func listNames(t *testing.T, dir string) []string {
	t.Helper()
	files, err := utils.ListFilesByModTime(dir, nil)
	require.NoError(t, err)
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Name)
	}
	return names
}

func requireCode(t *testing.T, err error, code ErrorCode) *PipelineError {
	t.Helper()
	require.Error(t, err)
	var pe *PipelineError
	require.True(t, errors.As(err, &pe), "expected *PipelineError, got %T: %v", err, err)
	assert.Equal(t, code, pe.Code)
	return pe
}

func TestRun_EndToEnd(t *testing.T) {
	f := newFixture(t, "voice.wav", "face.png")

	res, err := f.p.Run(context.Background())
	require.NoError(t, err)

	finalName := "voice-face_20261019-123045.mp4"
	assert.Equal(t, filepath.Join(f.paths.OutputDir, finalName), res.Output)
	assert.Equal(t, []string{finalName}, listNames(t, f.paths.OutputDir))

	assert.Empty(t, listNames(t, f.paths.InputDir))
	assert.ElementsMatch(t, []string{"voice.wav", "face.png"}, listNames(t, f.paths.InputCompletedDir))
	assert.Equal(t, []string{"voice_20261019-123045.mp4"}, listNames(t, f.paths.IntermediateCompletedDir))
	assert.Equal(t, []string{"face--voice_20261019-123045_concat.mp4"},
		listNames(t, filepath.Join(f.paths.LivePortraitOutputDir, "concat")))

	records, err := f.runLog.Read()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, []string{"voice.wav", "face.png", res.Output}, records[0].Files)

	bash := f.bashCommands()
	require.Len(t, bash, 2)
	assert.Equal(t, f.paths.SadTalkerDir, bash[0].WorkingDir)
	assert.Contains(t, bash[1].Args[1], "-d "+filepath.Join(f.paths.IntermediateDir, "voice_20261019-123045.mp4"))
}

func TestRun_ConvertsMP3First(t *testing.T) {
	f := newFixture(t, "voice.mp3", "face.png")

	res, err := f.p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"voice.mp3"}, res.Preprocess.Converted)
	assert.Equal(t, "voice.wav", res.Audio)
	assert.FileExists(t, filepath.Join(f.paths.ProcessedAudioDir, "voice.mp3"))
	assert.FileExists(t, filepath.Join(f.paths.InputCompletedDir, "voice.wav"))
}

func TestRun_StageAFailureLeavesInputs(t *testing.T) {
	f := newFixture(t, "voice.wav", "face.png")
	f.sadTalker = func(dependency.CommandRequest) (dependency.CommandResponse, error) {
		return dependency.Failed(1, "RuntimeError: CUDA out of memory"), nil
	}

	_, err := f.p.Run(context.Background())

	pe := requireCode(t, err, EXTERNAL_PROCESS_FAILED)
	assert.Equal(t, "sadtalker", pe.Stage)
	assert.Equal(t, 1, pe.ExitCode)
	assert.Equal(t, "RuntimeError: CUDA out of memory", pe.Stderr)

	assert.ElementsMatch(t, []string{"voice.wav", "face.png"}, listNames(t, f.paths.InputDir))
	assert.NoDirExists(t, f.paths.InputCompletedDir)
	assert.Empty(t, listNames(t, f.paths.OutputDir))
	assert.Empty(t, listNames(t, f.paths.IntermediateDir))
	assert.NoFileExists(t, f.runLog.Path())
	assert.Len(t, f.bashCommands(), 1)
}

func TestRun_SpawnFailure(t *testing.T) {
	f := newFixture(t, "voice.wav", "face.png")
	f.sadTalker = func(dependency.CommandRequest) (dependency.CommandResponse, error) {
		return dependency.CommandResponse{ExitCode: -1}, errors.New("exec: \"bash\": executable file not found in $PATH")
	}

	_, err := f.p.Run(context.Background())

	pe := requireCode(t, err, EXTERNAL_PROCESS_FAILED)
	assert.Equal(t, -1, pe.ExitCode)
}

func TestRun_MissingImage(t *testing.T) {
	f := newFixture(t, "voice.wav")

	_, err := f.p.Run(context.Background())

	requireCode(t, err, NO_INPUT_FILE)
	assert.ErrorIs(t, err, inputs.ErrNoInputFile)
	assert.Empty(t, f.bashCommands())
}

func TestRun_StageAProducesNothing(t *testing.T) {
	f := newFixture(t, "voice.wav", "face.png")
	f.sadTalker = func(dependency.CommandRequest) (dependency.CommandResponse, error) {
		return dependency.Succeeded(""), nil
	}

	_, err := f.p.Run(context.Background())

	pe := requireCode(t, err, NO_OUTPUT_ARTIFACT)
	assert.Equal(t, "sadtalker", pe.Stage)
	assert.ErrorIs(t, err, artifact.ErrNoOutputArtifact)
}

func TestRun_StageBOutputNotFound(t *testing.T) {
	f := newFixture(t, "voice.wav", "face.png")
	f.livePortrait = f.livePortraitWrites(false)

	_, err := f.p.Run(context.Background())

	pe := requireCode(t, err, NO_OUTPUT_ARTIFACT)
	assert.Equal(t, "liveportrait", pe.Stage)
	// the renamed stage A output stays for inspection, inputs stay for a re-run
	assert.Equal(t, []string{"voice_20261019-123045.mp4"}, listNames(t, f.paths.IntermediateDir))
	assert.ElementsMatch(t, []string{"voice.wav", "face.png"}, listNames(t, f.paths.InputDir))
}

func TestRun_DiskFull(t *testing.T) {
	f := newFixture(t, "voice.wav", "face.png")
	f.p.diskCheck = func(path string, min int) error { return NewDiskFullError(path, 10, uint64(min)) }

	_, err := f.p.Run(context.Background())

	pe := requireCode(t, err, DISK_FULL)
	assert.Equal(t, "sadtalker", pe.Stage)
	assert.Empty(t, f.bashCommands())
}

func TestRun_StageASourceImage(t *testing.T) {
	t.Run("template present", func(t *testing.T) {
		f := newFixture(t, "voice.wav", "face.png")
		require.NoError(t, os.MkdirAll(filepath.Dir(f.paths.TemplateImage), 0o755))
		require.NoError(t, os.WriteFile(f.paths.TemplateImage, []byte("png"), 0o644))

		_, err := f.p.Run(context.Background())
		require.NoError(t, err)
		assert.Contains(t, f.bashCommands()[0].Args[1], "--source_image "+f.paths.TemplateImage)
	})

	t.Run("template missing falls back to the portrait", func(t *testing.T) {
		f := newFixture(t, "voice.wav", "face.png")

		_, err := f.p.Run(context.Background())
		require.NoError(t, err)
		assert.Contains(t, f.bashCommands()[0].Args[1], "--source_image "+filepath.Join(f.paths.InputDir, "face.png"))
	})
}

func TestRun_MissingReferenceMediaDropped(t *testing.T) {
	f := newFixture(t, "voice.wav", "face.png")
	f.cfg.SadTalker.RefPose = filepath.Join(t.TempDir(), "missing_pose.mp4")

	_, err := f.p.Run(context.Background())

	require.NoError(t, err)
	assert.NotContains(t, f.bashCommands()[0].Args[1], "--ref_pose")
}

func TestPipelineError_Format(t *testing.T) {
	err := NewExternalProcessError("liveportrait", 2, "boom")
	assert.Equal(t, "[EXTERNAL_PROCESS_FAILED] liveportrait: external process exited with code 2", err.Error())

	wrapped := NewNoInputFileError(inputs.ErrNoInputFile)
	assert.ErrorIs(t, wrapped, inputs.ErrNoInputFile)
}

// blockingRunner blocks until released.
type blockingRunner struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingRunner) Run(ctx context.Context) (*RunResult, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return &RunResult{RunID: "r"}, nil
}

func TestRunGuard_RefusesConcurrentRuns(t *testing.T) {
	runner := &blockingRunner{started: make(chan struct{}), release: make(chan struct{})}
	guard := NewRunGuard(runner)

	done := make(chan error, 1)
	require.NoError(t, guard.TryStart(context.Background(), func(_ *RunResult, err error) { done <- err }))
	<-runner.started

	assert.True(t, guard.Status().Busy)
	_, err := guard.TryRun(context.Background())
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, guard.TryStart(context.Background(), nil), ErrBusy)

	close(runner.release)
	require.NoError(t, <-done)

	status := guard.Status()
	assert.False(t, status.Busy)
	assert.Equal(t, 1, status.Runs)
	require.NotNil(t, status.LastResult)
	assert.Equal(t, "r", status.LastResult.RunID)

	guard.Wait()
	res, err := guard.TryRun(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "r", res.RunID)
}

func TestRunGuard_WaitCoversDoneCallback(t *testing.T) {
	runner := &blockingRunner{started: make(chan struct{}), release: make(chan struct{})}
	guard := NewRunGuard(runner)

	var finished atomic.Bool
	require.NoError(t, guard.TryStart(context.Background(), func(*RunResult, error) {
		time.Sleep(100 * time.Millisecond)
		finished.Store(true)
	}))
	<-runner.started

	waited := make(chan struct{})
	go func() {
		guard.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		t.Fatal("Wait returned while a run was active")
	case <-time.After(50 * time.Millisecond):
	}

	close(runner.release)
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after the run finished")
	}
	assert.True(t, finished.Load(), "done callback must complete before Wait returns")
}

func TestRunGuard_WaitWhenIdle(t *testing.T) {
	guard := NewRunGuard(&blockingRunner{started: make(chan struct{}), release: make(chan struct{})})

	guard.Wait()

	assert.False(t, guard.Status().Busy)
}
