package main

import (
	"github.com/spf13/cobra"

	"github.com/houzhh15/avatar-pipeline/cmd/avatar-pipeline/internal/config"
)

// addGlobalFlags registers the persistent flags shared by every command.
func addGlobalFlags(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.String("config", "", "Config file (default ./config.yaml, then ~/.avatar-pipeline/config.yaml)")
	pf.String("log-level", "", "Log level: debug, info, warn, error (env AVATAR_LOG_LEVEL)")
	pf.String("log-file", "", "Also write logs to this rotating file (env AVATAR_LOG_FILE)")
	pf.String("pipeline-dir", "", "Pipeline working directory (env AVATAR_PIPELINE_DIR)")
	pf.String("home-dir", "", "First root searched for tool installations (env AVATAR_HOME_DIR)")
	pf.String("cuda-version", "", "Default CUDA toolkit version (env AVATAR_CUDA_VERSION)")
}

// loadConfig builds the effective configuration (defaults < file < env < flags)
// and validates it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := applyFlags(cmd, cfg); err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v, _ := cmd.Flags().GetString("log-file"); v != "" {
		cfg.Log.File = v
	}
	if v, _ := cmd.Flags().GetString("cuda-version"); v != "" {
		cfg.Values.DefaultCUDAVersion = v
	}

	for flag, target := range map[string]*string{
		"pipeline-dir": &cfg.Paths.PipelineDir,
		"home-dir":     &cfg.Paths.HomeDir,
	} {
		v, _ := cmd.Flags().GetString(flag)
		if v == "" {
			continue
		}
		expanded, err := config.ExpandHome(v)
		if err != nil {
			return err
		}
		*target = expanded
	}
	return nil
}
