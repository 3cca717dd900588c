// Package config loads the pipeline configuration: built-in defaults, an
// optional YAML file organised in sections, then AVATAR_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFileName is looked up in the working directory, then in ~/.avatar-pipeline/.
const DefaultFileName = "config.yaml"

// Config is the complete pipeline configuration.
type Config struct {
	Paths        PathsConfig        `yaml:"paths"`
	Values       ValuesConfig       `yaml:"values"`
	Environment  EnvironmentConfig  `yaml:"environment"`
	SadTalker    SadTalkerConfig    `yaml:"sadtalker"`
	LivePortrait LivePortraitConfig `yaml:"liveportrait"`
	Log          LogConfig          `yaml:"log"`
	Audit        AuditConfig        `yaml:"audit"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Watch        WatchConfig        `yaml:"watch"`
	TTS          TTSConfig          `yaml:"tts"`
}

// PathsConfig locates the tool installations and the pipeline working tree.
type PathsConfig struct {
	HomeDir         string   `yaml:"home_dir"`     // first search root for tool installations
	PipelineDir     string   `yaml:"pipeline_dir"` // defaults to the working directory
	SearchRoots     []string `yaml:"search_roots"` // extra roots, searched after home_dir and the pipeline's parent
	InputDir        string   `yaml:"input_dir"`
	OutputDir       string   `yaml:"output_dir"`
	IntermediateDir string   `yaml:"intermediate_dir"`
}

// ValuesConfig holds numeric tunables.
type ValuesConfig struct {
	SilenceMs          int      `yaml:"silence_ms"`
	DefaultCUDAVersion string   `yaml:"default_cuda_version"`
	SampleRate         int      `yaml:"sample_rate"` // 0 keeps the source rate
	Channels           int      `yaml:"channels"`    // 0 keeps the source layout
	AudioExtensions    []string `yaml:"audio_extensions"`
	ProcessedAudioDir  string   `yaml:"processed_audio_dir"`
	MinFreeMB          int      `yaml:"min_free_mb"`
}

// EnvironmentConfig describes how tool runtimes are activated.
type EnvironmentConfig struct {
	CondaScript string `yaml:"conda_script"`
	Shell       string `yaml:"shell"`
	FFmpeg      string `yaml:"ffmpeg"`
	Python      string `yaml:"python"`
	CUDARoot    string `yaml:"cuda_root"` // directory holding cuda-<version>
}

// SadTalkerConfig configures stage A (audio-driven face animation).
type SadTalkerConfig struct {
	DirName         string   `yaml:"dir_name"`
	Script          string   `yaml:"script"`
	CondaEnv        string   `yaml:"conda_env"`
	CUDAVersion     string   `yaml:"cuda_version"`
	ExpressionScale float64  `yaml:"expression_scale"`
	TemplateImage   string   `yaml:"template_image"`
	RefEyeblink     string   `yaml:"ref_eyeblink"`
	RefPose         string   `yaml:"ref_pose"`
	Preprocess      string   `yaml:"preprocess"`
	Still           bool     `yaml:"still"`
	ResultDir       string   `yaml:"result_dir"` // empty means the intermediate directory
	Timeout         Duration `yaml:"timeout"`
}

// LivePortraitConfig configures stage B (portrait re-animation).
type LivePortraitConfig struct {
	DirName          string   `yaml:"dir_name"`
	Script           string   `yaml:"script"`
	CondaEnv         string   `yaml:"conda_env"`
	CUDAVersion      string   `yaml:"cuda_version"`
	OutputDir        string   `yaml:"output_dir"` // relative to the tool directory
	CropDrivingVideo bool     `yaml:"flag_crop_driving_video"`
	ByproductSuffix  string   `yaml:"byproduct_suffix"`
	SweepDir         string   `yaml:"sweep_dir"`
	Timeout          Duration `yaml:"timeout"`
}

// LogConfig configures pkg/logger.
type LogConfig struct {
	Level       string `yaml:"level"`
	Environment string `yaml:"environment"` // prod -> JSON
	File        string `yaml:"file"`
	MaxSizeMB   int    `yaml:"max_size_mb"`
	MaxBackups  int    `yaml:"max_backups"`
	MaxAgeDays  int    `yaml:"max_age_days"`
	Compress    bool   `yaml:"compress"`
}

// AuditConfig locates the append-only run log. The extension selects the
// format: .csv, .jsonl, anything else plain text.
type AuditConfig struct {
	RunLog string `yaml:"run_log"`
}

// MetricsConfig configures metric export.
type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

// WatchConfig configures the watch command.
type WatchConfig struct {
	Settle Duration `yaml:"settle"`
	Listen string   `yaml:"listen"`
}

// TTSConfig configures the text-to-speech helper.
type TTSConfig struct {
	BaseURL         string  `yaml:"base_url"`
	APIKey          string  `yaml:"api_key"`
	VoiceID         string  `yaml:"voice_id"`
	ModelID         string  `yaml:"model_id"`
	Stability       float64 `yaml:"stability"`
	SimilarityBoost float64 `yaml:"similarity_boost"`
	Style           float64 `yaml:"style"`
	SpeakerBoost    bool    `yaml:"use_speaker_boost"`
	OutputName      string  `yaml:"output_name"`
}

// Duration is a time.Duration written as a Go duration string in YAML.
type Duration time.Duration

// UnmarshalYAML accepts "90s", "10m" or a bare integer number of seconds.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		*d = 0
		return nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration in Go syntax.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			HomeDir:         "~",
			InputDir:        "input",
			OutputDir:       "output",
			IntermediateDir: "intermediate_videos",
		},
		Values: ValuesConfig{
			SilenceMs:          1000,
			DefaultCUDAVersion: "12.1",
			AudioExtensions:    []string{".mp3"},
			ProcessedAudioDir:  "audio_mp3",
			MinFreeMB:          500,
		},
		Environment: EnvironmentConfig{
			CondaScript: "~/miniconda3/etc/profile.d/conda.sh",
			Shell:       "bash",
			FFmpeg:      "ffmpeg",
			Python:      "python",
			CUDARoot:    "/usr/local",
		},
		SadTalker: SadTalkerConfig{
			DirName:         "SadTalker",
			Script:          "inference.py",
			CondaEnv:        "sadtalker",
			ExpressionScale: 1.0,
			TemplateImage:   "templates/template.png",
			Preprocess:      "full",
			Still:           true,
		},
		LivePortrait: LivePortraitConfig{
			DirName:          "LivePortrait",
			Script:           "inference.py",
			CondaEnv:         "liveportrait",
			OutputDir:        "animations",
			CropDrivingVideo: true,
			ByproductSuffix:  "_concat.mp4",
			SweepDir:         "concat",
		},
		Log: LogConfig{
			Level:       "info",
			Environment: "dev",
			MaxSizeMB:   50,
			MaxBackups:  5,
			MaxAgeDays:  30,
		},
		Audit: AuditConfig{
			RunLog: "output_list.log",
		},
		Watch: WatchConfig{
			Settle: Duration(2 * time.Second),
		},
		TTS: TTSConfig{
			BaseURL:         "https://api.elevenlabs.io",
			VoiceID:         "EXAVITQu4vr4xnSDxMaL",
			ModelID:         "eleven_multilingual_v2",
			Stability:       0.5,
			SimilarityBoost: 0.8,
			Style:           0.0,
			SpeakerBoost:    true,
			OutputName:      "tts.mp3",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path and the
// environment. An empty path probes DefaultFileName in the working directory
// and then in ~/.avatar-pipeline/; a missing probed file is not an error, a
// missing explicit path is.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = findDefaultFile()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist) && !explicit:
		default:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	applyEnv(cfg)
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findDefaultFile() string {
	if _, err := os.Stat(DefaultFileName); err == nil {
		return DefaultFileName
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	candidate := filepath.Join(home, ".avatar-pipeline", DefaultFileName)
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return ""
}

// applyEnv overrides file values with AVATAR_* variables.
func applyEnv(cfg *Config) {
	cfg.Paths.HomeDir = getEnv("AVATAR_HOME_DIR", cfg.Paths.HomeDir)
	cfg.Paths.PipelineDir = getEnv("AVATAR_PIPELINE_DIR", cfg.Paths.PipelineDir)
	cfg.Values.DefaultCUDAVersion = getEnv("AVATAR_CUDA_VERSION", cfg.Values.DefaultCUDAVersion)
	cfg.Environment.CondaScript = getEnv("AVATAR_CONDA_SCRIPT", cfg.Environment.CondaScript)
	cfg.Log.Level = getEnv("AVATAR_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Environment = getEnv("AVATAR_ENV", cfg.Log.Environment)
	cfg.Log.File = getEnv("AVATAR_LOG_FILE", cfg.Log.File)
	cfg.Audit.RunLog = getEnv("AVATAR_RUN_LOG", cfg.Audit.RunLog)
	cfg.Metrics.Textfile = getEnv("AVATAR_METRICS_TEXTFILE", cfg.Metrics.Textfile)
	cfg.TTS.APIKey = getEnv("ELEVENLABS_API_KEY", cfg.TTS.APIKey)
	if v := os.Getenv("AVATAR_SILENCE_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Values.SilenceMs = n
		}
	}
}

func (c *Config) expandPaths() error {
	targets := []*string{
		&c.Paths.HomeDir, &c.Paths.PipelineDir, &c.Paths.InputDir, &c.Paths.OutputDir,
		&c.Paths.IntermediateDir, &c.Environment.CondaScript, &c.Environment.CUDARoot,
		&c.SadTalker.TemplateImage, &c.SadTalker.RefEyeblink, &c.SadTalker.RefPose,
		&c.SadTalker.ResultDir, &c.Log.File, &c.Audit.RunLog, &c.Metrics.Textfile,
	}
	for _, p := range targets {
		expanded, err := ExpandHome(*p)
		if err != nil {
			return err
		}
		*p = expanded
	}
	for i, root := range c.Paths.SearchRoots {
		expanded, err := ExpandHome(root)
		if err != nil {
			return err
		}
		c.Paths.SearchRoots[i] = expanded
	}
	return nil
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to expand %s: %w", path, err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// CUDAVersion returns the tool-specific version or the default.
func (c *Config) CUDAVersion(toolVersion string) string {
	if toolVersion != "" {
		return toolVersion
	}
	return c.Values.DefaultCUDAVersion
}

var cudaVersionPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)*$`)

// ValidCUDAVersion reports whether v is safe to splice into an environment path.
func ValidCUDAVersion(v string) bool {
	return cudaVersionPattern.MatchString(v)
}

var validRunLogExts = map[string]bool{".log": true, ".txt": true, ".csv": true, ".jsonl": true}

// Validate checks the configuration and reports every problem at once.
func Validate(cfg *Config) error {
	var problems []string

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Log.Level)] {
		problems = append(problems, fmt.Sprintf("invalid log.level: %s (must be: debug, info, warn, error)", cfg.Log.Level))
	}

	switch strings.ToLower(cfg.Log.Environment) {
	case "", "dev", "prod":
	default:
		problems = append(problems, fmt.Sprintf("invalid log.environment: %s (must be: dev, prod)", cfg.Log.Environment))
	}

	if cfg.Values.SilenceMs < 0 {
		problems = append(problems, fmt.Sprintf("values.silence_ms must not be negative (got %d)", cfg.Values.SilenceMs))
	}
	if cfg.Values.SampleRate < 0 || cfg.Values.Channels < 0 {
		problems = append(problems, "values.sample_rate and values.channels must not be negative")
	}
	if len(cfg.Values.AudioExtensions) == 0 {
		problems = append(problems, "values.audio_extensions cannot be empty")
	}

	for name, v := range map[string]string{
		"values.default_cuda_version": cfg.Values.DefaultCUDAVersion,
		"sadtalker.cuda_version":      cfg.CUDAVersion(cfg.SadTalker.CUDAVersion),
		"liveportrait.cuda_version":   cfg.CUDAVersion(cfg.LivePortrait.CUDAVersion),
	} {
		if !ValidCUDAVersion(v) {
			problems = append(problems, fmt.Sprintf("invalid %s: %q (expected digits separated by dots)", name, v))
		}
	}

	if cfg.SadTalker.DirName == "" || cfg.LivePortrait.DirName == "" {
		problems = append(problems, "sadtalker.dir_name and liveportrait.dir_name cannot be empty")
	}
	if cfg.SadTalker.Script == "" {
		problems = append(problems, "sadtalker.script cannot be empty")
	}
	if cfg.LivePortrait.Script == "" {
		problems = append(problems, "liveportrait.script cannot be empty")
	}
	if cfg.LivePortrait.OutputDir == "" {
		problems = append(problems, "liveportrait.output_dir cannot be empty")
	}
	if cfg.SadTalker.Timeout < 0 || cfg.LivePortrait.Timeout < 0 {
		problems = append(problems, "stage timeouts must not be negative")
	}

	if cfg.Audit.RunLog == "" {
		problems = append(problems, "audit.run_log cannot be empty")
	} else if ext := strings.ToLower(filepath.Ext(cfg.Audit.RunLog)); !validRunLogExts[ext] {
		problems = append(problems, fmt.Sprintf("invalid audit.run_log extension %q (must be: .log, .txt, .csv, .jsonl)", ext))
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// Masked returns a copy safe to print.
func (c *Config) Masked() *Config {
	cp := *c
	cp.Paths.SearchRoots = append([]string(nil), c.Paths.SearchRoots...)
	cp.Values.AudioExtensions = append([]string(nil), c.Values.AudioExtensions...)
	cp.TTS.APIKey = maskSecret(c.TTS.APIKey)
	return &cp
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// getEnv returns the environment value for key or defaultValue when unset.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// maskSecret hides all but the edges of a secret.
func maskSecret(secret string) string {
	if secret == "" {
		return "<not set>"
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "***" + secret[len(secret)-4:]
}
