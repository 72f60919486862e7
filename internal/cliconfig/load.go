package cliconfig

import "fmt"

// Load layers the TOML file at path (when it exists) and then NOTIBATCH_*
// variables over base. Fields whose flag is in changed keep base's value,
// so the precedence is flags > env > file > defaults.
func Load(base Config, path string, changed map[string]bool) (Config, error) {
	cfg := base

	if path != "" && FileExists(path) {
		fc, err := LoadFileConfig(path)
		if err != nil {
			return cfg, fmt.Errorf("load config %s: %w", path, err)
		}
		if err := ApplyFileConfig(&cfg, fc, changed); err != nil {
			return cfg, err
		}
	}

	if err := ApplyEnvConfig(&cfg, changed); err != nil {
		return cfg, err
	}
	return cfg, nil
}
