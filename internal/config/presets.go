package config

import (
	_ "embed"
	"fmt"
	"sort"
	"sync"

	"github.com/systmms/credrotate/pkg/rotation"
	"gopkg.in/yaml.v3"
)

// DefaultPreset applies to targets defined only on the command line.
const DefaultPreset = "standard-autocomplete"

//go:embed presets.yaml
var presetsYAML string

// Preset is a named table of locators for a common form convention
type Preset struct {
	Name        string
	Description string
	Locators    rotation.Locators
}

type presetFile struct {
	Presets map[string]struct {
		Description string            `yaml:"description"`
		Locators    map[string]string `yaml:"locators"`
	} `yaml:"presets"`
}

var (
	presetsOnce sync.Once
	presets     map[string]Preset
	presetsErr  error
)

func loadPresets() (map[string]Preset, error) {
	presetsOnce.Do(func() {
		var file presetFile
		if err := yaml.Unmarshal([]byte(presetsYAML), &file); err != nil {
			presetsErr = fmt.Errorf("failed to parse presets: %w", err)
			return
		}

		presets = make(map[string]Preset, len(file.Presets))
		for name, p := range file.Presets {
			locators := rotation.Locators{}
			for field, raw := range p.Locators {
				if !rotation.IsKnownField(field) {
					presetsErr = fmt.Errorf("preset %s: unknown field %q", name, field)
					return
				}
				loc, err := rotation.ParseLocator(raw)
				if err != nil {
					presetsErr = fmt.Errorf("preset %s: field %s: %w", name, field, err)
					return
				}
				locators[rotation.Field(field)] = loc
			}
			presets[name] = Preset{Name: name, Description: p.Description, Locators: locators}
		}
	})
	return presets, presetsErr
}

// LookupPreset returns the named preset.
func LookupPreset(name string) (Preset, bool) {
	all, err := loadPresets()
	if err != nil {
		return Preset{}, false
	}
	p, ok := all[name]
	return p, ok
}

// PresetNames lists the built-in presets, sorted.
func PresetNames() []string {
	all, _ := loadPresets()
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
