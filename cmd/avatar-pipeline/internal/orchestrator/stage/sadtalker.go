package stage

import (
	"strconv"
	"time"

	"github.com/houzhh15/avatar-pipeline/cmd/avatar-pipeline/internal/orchestrator/dependency"
)

// SadTalkerParams are the inputs of the audio-driven face animation stage.
type SadTalkerParams struct {
	ToolDir string
	Python  string
	Script  string
	Env     Environment

	DrivenAudio string
	SourceImage string
	ResultDir   string

	Still           bool
	Preprocess      string
	ExpressionScale float64

	// Optional reference videos; omitted when empty.
	RefEyeblink string
	RefPose     string

	Timeout time.Duration
}

// SadTalkerSpec builds the stage A spec. The tool writes an .mp4 into ResultDir.
func SadTalkerSpec(p SadTalkerParams) (Spec, error) {
	script := dependency.NewScript()
	if err := p.Env.prepare(script, p.ToolDir); err != nil {
		return Spec{}, err
	}

	args := []string{
		p.Script,
		"--driven_audio", p.DrivenAudio,
		"--source_image", p.SourceImage,
		"--result_dir", p.ResultDir,
	}
	if p.Still {
		args = append(args, "--still")
	}
	if p.Preprocess != "" {
		args = append(args, "--preprocess", p.Preprocess)
	}
	args = append(args, "--expression_scale", strconv.FormatFloat(p.ExpressionScale, 'f', -1, 64))
	if p.RefEyeblink != "" {
		args = append(args, "--ref_eyeblink", p.RefEyeblink)
	}
	if p.RefPose != "" {
		args = append(args, "--ref_pose", p.RefPose)
	}
	script.Cmd(pythonOrDefault(p.Python), args...)

	return Spec{
		Name:       NameSadTalker,
		Script:     script,
		WorkingDir: p.ToolDir,
		Timeout:    p.Timeout,
		OutputDir:  p.ResultDir,
		OutputExt:  ".mp4",
	}, nil
}

func pythonOrDefault(python string) string {
	if python == "" {
		return "python"
	}
	return python
}
