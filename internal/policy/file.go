package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"astra-responder/internal/schema"
)

// LoadFile reads per-alert-type action configs from a YAML file. Entries
// replace the defaults for their alert type; types absent from the file keep
// their defaults. Returns a ConfigError on the first invalid entry.
func LoadFile(path string) (map[schema.AlertType][]ActionConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}

	var raw map[schema.AlertType][]ActionConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing policy file %s: %w", path, err)
	}

	for alertType, configs := range raw {
		if !alertType.IsValid() {
			return nil, &ConfigError{AlertType: alertType, Reason: "unknown alert type"}
		}
		for i := range configs {
			if err := compile(alertType, &configs[i]); err != nil {
				return nil, err
			}
		}
		raw[alertType] = configs
	}
	return raw, nil
}

// ApplyFile loads the policy file and installs its entries into the
// registry, leaving unmentioned alert types untouched.
func ApplyFile(r *Registry, path string) error {
	overrides, err := LoadFile(path)
	if err != nil {
		return err
	}
	for alertType, configs := range overrides {
		if err := r.Replace(alertType, configs); err != nil {
			return err
		}
	}
	return nil
}
