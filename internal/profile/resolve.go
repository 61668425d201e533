package profile

import "github.com/matheus3301/fieldops/internal/config"

const DefaultName = "main"

// Resolve picks the active profile: the --profile flag, then
// FIELDOPS_PROFILE or config.toml default_profile, then "main".
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	cfg, err := config.LoadOrDefault(ConfigPath())
	if err != nil {
		cfg = config.Default()
	}
	_ = config.ApplyEnv(cfg)
	if cfg.DefaultProfile != "" {
		return cfg.DefaultProfile
	}
	return DefaultName
}
