package jobs

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type jobFile struct {
	Jobs []yaml.Node `yaml:"jobs"`
}

// LoadFile reads a YAML job file:
//
//	jobs:
//	  - name: gads_daily
//	    source: gads
//	    enabled: true
//	    schedule: "0 6 * * *"
//
// Fields left out keep the defaults of NewJobConfig.
func LoadFile(path string) ([]JobConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read jobs file: %w", err)
	}
	return ParseFile(raw)
}

func ParseFile(raw []byte) ([]JobConfig, error) {
	var f jobFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, ConfigError("parse jobs file: %v", err)
	}

	seen := map[string]bool{}
	out := make([]JobConfig, 0, len(f.Jobs))
	for i := range f.Jobs {
		cfg, err := decodeJob(&f.Jobs[i])
		if err != nil {
			return nil, ConfigError("jobs[%d]: %v", i, err)
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		if seen[cfg.Name] {
			return nil, ConfigError("duplicate job name %q", cfg.Name)
		}
		seen[cfg.Name] = true
		out = append(out, cfg)
	}
	return out, nil
}

// decodeJob decodes one entry over the defaults, rejecting unknown keys.
func decodeJob(node *yaml.Node) (JobConfig, error) {
	raw, err := yaml.Marshal(node)
	if err != nil {
		return JobConfig{}, err
	}
	cfg := NewJobConfig("", "", "")
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return JobConfig{}, err
	}
	return cfg, nil
}

// Merge overlays overrides onto base by name. Overridden jobs keep their
// position in base; new jobs are appended in order.
func Merge(base, overrides []JobConfig) []JobConfig {
	out := make([]JobConfig, 0, len(base)+len(overrides))
	pos := map[string]int{}
	for _, c := range base {
		pos[c.Name] = len(out)
		out = append(out, c.WithEnabled(c.Enabled))
	}
	for _, c := range overrides {
		if i, ok := pos[c.Name]; ok {
			out[i] = c.WithEnabled(c.Enabled)
			continue
		}
		pos[c.Name] = len(out)
		out = append(out, c.WithEnabled(c.Enabled))
	}
	return out
}
