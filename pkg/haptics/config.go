// Haptic mode configuration loading
//
// Copyright (C) 2026  Melbourne Instruments
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package haptics

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// modeFile is the YAML document shape:
//
//	modes:
//	  - name: filter-cutoff
//	    type: knob
//	    width: 300
//	    start_pos: 30
//	    friction: 12
//	    num_detents: 0
//	    detent_strength: 0
//	    indents:
//	      - position: 16384
//	      - position: 24576
//	        enabled: false
type modeFile struct {
	Modes []modeEntry `yaml:"modes"`
}

type modeEntry struct {
	Name           string        `yaml:"name"`
	Type           string        `yaml:"type"`
	Width          int           `yaml:"width"`
	StartPos       *int          `yaml:"start_pos"`
	Friction       uint8         `yaml:"friction"`
	NumDetents     uint8         `yaml:"num_detents"`
	DetentStrength uint8         `yaml:"detent_strength"`
	Indents        []indentEntry `yaml:"indents"`
}

type indentEntry struct {
	// Enabled defaults to true when omitted.
	Enabled  *bool  `yaml:"enabled"`
	Position uint16 `yaml:"position"`
}

// LoadModes parses a YAML haptic mode file into validated modes.
func LoadModes(path string) ([]Mode, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("haptics: read %s: %w", path, err)
	}
	return ParseModes(data)
}

// ParseModes parses YAML haptic mode data.
func ParseModes(data []byte) ([]Mode, error) {
	var file modeFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("haptics: parse modes: %w", err)
	}

	modes := make([]Mode, 0, len(file.Modes))
	for _, e := range file.Modes {
		m := Mode{
			Name:           e.Name,
			KnobWidth:      e.Width,
			KnobStartPos:   e.StartPos,
			Friction:       e.Friction,
			NumDetents:     e.NumDetents,
			DetentStrength: e.DetentStrength,
		}
		switch e.Type {
		case "knob", "":
			m.Type = TypeKnob
			if m.KnobWidth == 0 {
				m.KnobWidth = 360
			}
		case "switch":
			m.Type = TypeSwitch
		default:
			return nil, fmt.Errorf("%w: %s: unknown control type %q", ErrInvalidMode, e.Name, e.Type)
		}
		for _, ie := range e.Indents {
			enabled := true
			if ie.Enabled != nil {
				enabled = *ie.Enabled
			}
			m.Indents = append(m.Indents, Indent{Enabled: enabled, Position: ie.Position})
		}
		if err := m.Validate(); err != nil {
			return nil, err
		}
		modes = append(modes, m)
	}
	return modes, nil
}

// LoadInto loads a YAML haptic mode file into a registry.
func (r *Registry) LoadInto(path string) error {
	modes, err := LoadModes(path)
	if err != nil {
		return err
	}
	for _, m := range modes {
		if err := r.Add(m); err != nil {
			return err
		}
	}
	return nil
}
