// RubinTV - Live display service for observatory camera artifacts
// SPDX-License-Identifier: GPL-3.0-or-later
// https://github.com/lsst-ts/rubintv

package models

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// fixturesFile is the on-disk shape of the models file.
type fixturesFile struct {
	Locations []Location `yaml:"locations" validate:"required,min=1,dive"`
}

// LoadLocations reads and validates the site fixtures. The returned slice
// is the process-wide source of truth and must not be mutated.
func LoadLocations(path string) ([]Location, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixtures file: %w", err)
	}
	return ParseLocations(raw)
}

// ParseLocations decodes and validates fixtures from YAML bytes.
func ParseLocations(raw []byte) ([]Location, error) {
	var file fixturesFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decoding fixtures: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&file); err != nil {
		return nil, fmt.Errorf("validating fixtures: %w", err)
	}

	seen := make(map[string]struct{}, len(file.Locations))
	for li := range file.Locations {
		loc := &file.Locations[li]
		if _, dup := seen[loc.Name]; dup {
			return nil, fmt.Errorf("duplicate location %q in fixtures", loc.Name)
		}
		seen[loc.Name] = struct{}{}

		camSeen := make(map[string]struct{}, len(loc.Cameras))
		for ci := range loc.Cameras {
			cam := &loc.Cameras[ci]
			if _, dup := camSeen[cam.Name]; dup {
				return nil, fmt.Errorf("duplicate camera %q on location %q", cam.Name, loc.Name)
			}
			camSeen[cam.Name] = struct{}{}
			applyChannelDefaults(cam.Channels)
			applyChannelDefaults(cam.PerDayChannels)
		}
	}
	return file.Locations, nil
}

func applyChannelDefaults(channels []Channel) {
	for i := range channels {
		if channels[i].Label == "" {
			channels[i].Label = channels[i].Title
		}
	}
}

// FindLocation returns the named location from the fixtures slice.
func FindLocation(locations []Location, name string) (*Location, bool) {
	for i := range locations {
		if locations[i].Name == name {
			return &locations[i], true
		}
	}
	return nil, false
}
