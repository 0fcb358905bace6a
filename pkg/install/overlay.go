package install

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// overlayEntry is the YAML shape of one install target in an overlay
// file, letting an operator extend the built-in Default registry
// without a recompile.
type overlayEntry struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Subtarget   string `yaml:"subtarget,omitempty"`
	SSH         string `yaml:"ssh,omitempty"`
	DestPath    string `yaml:"destpath,omitempty"`
	PostHook    string `yaml:"posthook,omitempty"`
	PreferLoads bool   `yaml:"prefer_loads,omitempty"`
	LoadsName   string `yaml:"loadsname,omitempty"`
}

type overlayFile struct {
	Targets []overlayEntry `yaml:"targets"`
}

// LoadOverlay reads a YAML file of additional install targets and
// merges them into base, overlay entries winning on name collision.
func LoadOverlay(path string, base *Registry) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read overlay %s: %w", path, err)
	}
	var doc overlayFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse overlay %s: %w", path, err)
	}

	merged := make(map[string]Target, len(base.byName)+len(doc.Targets))
	for name, t := range base.byName {
		merged[name] = t
	}
	for _, e := range doc.Targets {
		if e.Name == "" {
			return nil, fmt.Errorf("overlay %s: target missing name", path)
		}
		merged[e.Name] = Target{
			Name:        e.Name,
			Description: e.Description,
			Subtarget:   e.Subtarget,
			SSH:         withDefaultSSH(e.SSH),
			DestPath:    e.DestPath,
			HasDestPath: e.DestPath != "",
			PostHook:    e.PostHook,
			PreferLoads: e.PreferLoads,
			LoadsName:   e.LoadsName,
		}
	}

	targets := make([]Target, 0, len(merged))
	for _, t := range merged {
		targets = append(targets, t)
	}
	return NewRegistry(targets)
}

// SaveOverlay writes targets as a YAML overlay file, for `loadsctl
// install-target add` style tooling.
func SaveOverlay(path string, targets []Target) error {
	doc := overlayFile{Targets: make([]overlayEntry, 0, len(targets))}
	for _, t := range targets {
		doc.Targets = append(doc.Targets, overlayEntry{
			Name: t.Name, Description: t.Description, Subtarget: t.Subtarget,
			SSH: t.SSH, DestPath: t.DestPath, PostHook: t.PostHook,
			PreferLoads: t.PreferLoads, LoadsName: t.LoadsName,
		})
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal overlay: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
