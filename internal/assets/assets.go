// Package assets holds data files compiled into the binary: the default
// collection palette and the release notes shown after an upgrade.
package assets

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed theme.yaml
var themeYAML []byte

//go:embed releases.yaml
var releasesYAML []byte

// Theme holds default colors for collections that carry none.
type Theme struct {
	CalendarColor    string `yaml:"calendar_color"`
	AddressbookColor string `yaml:"addressbook_color"`
}

// DefaultColor returns the default color for a collection kind
// ("calendar" or "addressbook").
func (t Theme) DefaultColor(kind string) string {
	if kind == "calendar" {
		return t.CalendarColor
	}

	return t.AddressbookColor
}

// DefaultTheme returns the embedded theme.
func DefaultTheme() Theme {
	var t Theme
	if err := yaml.Unmarshal(themeYAML, &t); err != nil {
		panic(fmt.Sprintf("embedded theme.yaml is invalid: %v", err))
	}

	return t
}

// LoadTheme reads a theme override from path. Fields missing from the
// file keep their embedded defaults. An empty path returns the default.
func LoadTheme(path string) (Theme, error) {
	t := DefaultTheme()
	if path == "" {
		return t, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Theme{}, fmt.Errorf("reading theme: %w", err)
	}

	if err := yaml.Unmarshal(data, &t); err != nil {
		return Theme{}, fmt.Errorf("parsing theme %s: %w", path, err)
	}

	return t, nil
}

// Release is the notes for one version.
type Release struct {
	Version string   `yaml:"version"`
	Notes   []string `yaml:"notes"`
}

type releaseFile struct {
	Releases []Release `yaml:"releases"`
}

// ReleaseNotes returns the notes for version, or nil if there are none.
func ReleaseNotes(version string) []string {
	var f releaseFile
	if err := yaml.Unmarshal(releasesYAML, &f); err != nil {
		panic(fmt.Sprintf("embedded releases.yaml is invalid: %v", err))
	}

	for _, r := range f.Releases {
		if r.Version == version {
			return r.Notes
		}
	}

	return nil
}
