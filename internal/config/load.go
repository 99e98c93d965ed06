package config

import (
	"github.com/fugue-ai/rhema-sub010/internal/core/domain"
	"github.com/fugue-ai/rhema-sub010/internal/infra/confloader"
)

// Load builds a verified configuration from defaults, the YAML file at
// path (optional), RHEMA_ environment variables and overrides, in that
// order of increasing priority. Override keys are dotted, e.g.
// "storage.base_path".
func Load(path string, overrides map[string]any) (*Config, error) {
	cfg := Default()

	l := confloader.NewLoader(
		confloader.WithConfigFile(path),
		confloader.WithOverrides(overrides),
	)
	if err := l.Load(cfg); err != nil {
		return nil, domain.ErrConfiguration.WithCause(err)
	}

	if err := Verify(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
