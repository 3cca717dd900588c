package stage

import (
	"time"

	"github.com/houzhh15/avatar-pipeline/cmd/avatar-pipeline/internal/orchestrator/dependency"
)

// LivePortraitParams are the inputs of the portrait re-animation stage.
type LivePortraitParams struct {
	ToolDir string
	Python  string
	Script  string
	Env     Environment

	SourceImage  string
	DrivingVideo string
	OutputDir    string

	CropDrivingVideo bool

	Timeout time.Duration
}

// LivePortraitSpec builds the stage B spec. The tool names its result after
// the source and driving stems ("{source}--{driver}.mp4") inside OutputDir.
func LivePortraitSpec(p LivePortraitParams) (Spec, error) {
	script := dependency.NewScript()
	if err := p.Env.prepare(script, p.ToolDir); err != nil {
		return Spec{}, err
	}

	args := []string{
		p.Script,
		"-s", p.SourceImage,
		"-d", p.DrivingVideo,
		"-o", p.OutputDir,
	}
	if p.CropDrivingVideo {
		args = append(args, "--flag_crop_driving_video")
	}
	script.Cmd(pythonOrDefault(p.Python), args...)

	return Spec{
		Name:       NameLivePortrait,
		Script:     script,
		WorkingDir: p.ToolDir,
		Timeout:    p.Timeout,
		OutputDir:  p.OutputDir,
		OutputExt:  ".mp4",
	}, nil
}
