package promptfile

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// File names looked up in a prompt directory.
const (
	ManifestFile    = "prompts.yaml"
	SystemFile      = "system_prompt.txt"
	TitleSystemFile = "title_system_prompt.txt"
)

// ErrInvalidManifest is returned when a manifest cannot be parsed or is missing a prompt.
var ErrInvalidManifest = errors.New("promptfile: invalid manifest")

//go:embed defaults/prompts.yaml
var defaults embed.FS

// Prompts holds the system prompts the bot uses.
type Prompts struct {
	Version string `yaml:"version"`
	// System opens every new conversation; it may contain {{DAY}} and {{DATE}}.
	System string `yaml:"system"`
	// Title instructs the model that names new conversations.
	Title string `yaml:"title"`
}

// ParseBytes parses a YAML manifest. Both prompts are required.
func ParseBytes(data []byte) (Prompts, error) {
	var p Prompts
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Prompts{}, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}
	if strings.TrimSpace(p.System) == "" {
		return Prompts{}, fmt.Errorf("%w: missing system", ErrInvalidManifest)
	}
	if strings.TrimSpace(p.Title) == "" {
		return Prompts{}, fmt.Errorf("%w: missing title", ErrInvalidManifest)
	}
	return p, nil
}

// ParseFS reads and parses a manifest from fsys.
func ParseFS(fsys fs.FS, name string) (Prompts, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return Prompts{}, fmt.Errorf("promptfile: read %s: %w", name, err)
	}
	return ParseBytes(data)
}

// Default returns the built-in prompts.
func Default() Prompts {
	p, err := ParseFS(defaults, "defaults/"+ManifestFile)
	if err != nil {
		panic(err)
	}
	return p
}

// Load returns the built-in prompts overridden by dir. In dir, a ManifestFile replaces both
// prompts, and SystemFile or TitleSystemFile then replace one prompt each. An empty dir or a
// directory without any of these files yields the defaults.
func Load(dir string) (Prompts, error) {
	p := Default()
	if dir == "" {
		return p, nil
	}
	return overlay(os.DirFS(dir), p)
}

func overlay(fsys fs.FS, p Prompts) (Prompts, error) {
	if _, err := fs.Stat(fsys, ManifestFile); err == nil {
		m, err := ParseFS(fsys, ManifestFile)
		if err != nil {
			return Prompts{}, err
		}
		p = m
	} else if !errors.Is(err, fs.ErrNotExist) {
		return Prompts{}, fmt.Errorf("promptfile: stat %s: %w", ManifestFile, err)
	}

	for name, dst := range map[string]*string{SystemFile: &p.System, TitleSystemFile: &p.Title} {
		data, err := fs.ReadFile(fsys, name)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return Prompts{}, fmt.Errorf("promptfile: read %s: %w", name, err)
		}
		if text := strings.TrimSpace(string(data)); text != "" {
			*dst = text
		}
	}
	return p, nil
}
