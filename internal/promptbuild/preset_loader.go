package promptbuild

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

func (b *Builder) loadPreset(req BuildRequest) (*Preset, error) {
	presetPath := strings.TrimSpace(req.PresetPath)
	if presetPath == "" {
		name := strings.TrimSpace(req.Preset)
		if name == "" {
			name = strings.TrimSpace(b.cfg.Prompt.Preset)
		}
		if name == "" {
			return nil, nil
		}
		presetPath = filepath.Join(b.cfg.Paths.PresetsDir, name+".yaml")
	}

	fullPath := b.cfg.Resolve(presetPath)
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("read preset file %s: %w", fullPath, err)
	}

	var preset Preset
	if err := yaml.Unmarshal(data, &preset); err != nil {
		return nil, fmt.Errorf("parse preset file %s: %w", fullPath, err)
	}
	if err := validatePreset(&preset, b.cfg.Prompt.Marker, b.cfg.Prompt.NegativeBlock); err != nil {
		return nil, fmt.Errorf("invalid preset file %s: %w", fullPath, err)
	}

	return &preset, nil
}

// validatePreset checks a preset against the config it inherits from.
// A preset that sets only a marker must agree with the inherited block.
func validatePreset(preset *Preset, defaultMarker, defaultNegative string) error {
	if preset == nil {
		return fmt.Errorf("preset is nil")
	}
	if strings.TrimSpace(preset.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if preset.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must be >= 0")
	}

	marker := strings.TrimSpace(preset.Marker)
	if marker == "" {
		marker = strings.TrimSpace(defaultMarker)
	}
	if len(strings.Fields(preset.Marker)) > 1 {
		return fmt.Errorf("marker must be a single token")
	}
	neg := strings.Fields(preset.Negative)
	if len(neg) > 0 && neg[0] != marker {
		return fmt.Errorf("negative must start with %q", marker)
	}
	if len(neg) == 0 && marker != strings.TrimSpace(defaultMarker) {
		inherited := strings.Fields(defaultNegative)
		if len(inherited) > 0 && inherited[0] != marker {
			return fmt.Errorf("marker %q differs from the inherited negative block; set negative as well", marker)
		}
	}
	return nil
}
