// Package install implements C9: install-target descriptors and the
// remote-script/remote-shell-command builders that deliver a package or
// bundle to a device.
package install

import "fmt"

// Target is a delivery descriptor, distinct from a build target (see
// pkg/target), that parameterizes how to push an image or bundle to a
// device over a remote shell.
type Target struct {
	Name        string
	Description string
	Subtarget   string // hierarchical locator for the package-locator tool
	SSH         string // name of the shell invocation binary, default "ssh"
	DestPath    string // remote path to place the image in place-at-path mode
	HasDestPath bool   // selects place-at-path mode; false means stream-into-installer mode
	PostHook    string // shell fragment run after placement, $destpath available
	PreferLoads bool
	LoadsName   string // name used to resolve a pkg/target.Target for loads-style delivery
}

// IsRemoteSupportCompatible reports whether this install target can be
// driven through a restricted "remotesupport" shell, which allows the
// installer invocation but not arbitrary file placement.
func (t Target) IsRemoteSupportCompatible() bool {
	return !t.HasDestPath
}

func withDefaultSSH(ssh string) string {
	if ssh == "" {
		return "ssh"
	}
	return ssh
}

// Registry is a static table of install Targets, mirroring
// original_source/binst.py's TARGETS dict.
type Registry struct {
	byName map[string]Target
}

// NewRegistry builds a Registry, applying the ssh-binary default.
func NewRegistry(targets []Target) (*Registry, error) {
	r := &Registry{byName: make(map[string]Target, len(targets))}
	for _, t := range targets {
		if _, exists := r.byName[t.Name]; exists {
			return nil, fmt.Errorf("duplicate install target %q", t.Name)
		}
		t.SSH = withDefaultSSH(t.SSH)
		if t.PreferLoads && t.LoadsName == "" {
			return nil, fmt.Errorf("install target %q: prefer_loads requires loadsname", t.Name)
		}
		r.byName[t.Name] = t
	}
	return r, nil
}

// NotFoundError is returned by ByName when no install target matches.
type NotFoundError struct{ Name string }

func (e *NotFoundError) Error() string { return fmt.Sprintf("install target %q not found", e.Name) }

// ByName resolves an install target by name.
func (r *Registry) ByName(name string) (Target, error) {
	t, ok := r.byName[name]
	if !ok {
		return Target{}, &NotFoundError{Name: name}
	}
	return t, nil
}

// Default is the process-wide install-target registry, equivalent to
// original_source/binst.py's module-level TARGETS dict.
var Default = mustDefault()

func mustDefault() *Registry {
	r, err := NewRegistry([]Target{
		{Name: "asterix", Description: "Asterix codec"},
		{Name: "asterix.apps", Description: "Asterix applications", Subtarget: "apps"},
		{Name: "sunrise", Description: "Sunrise codec with peripherals", PreferLoads: true, LoadsName: "sunrise"},
		{Name: "sunrise.r28n", Description: "Sunrise R28N variant", LoadsName: "sunrise"},
		{Name: "zenith", Description: "Zenith codec with peripherals", PreferLoads: true, LoadsName: "zenith"},
		{Name: "ce-host", Description: "Collaboration Endpoint host OS", SSH: "vm_ssh"},
	})
	if err != nil {
		panic("install: invalid default registry: " + err.Error())
	}
	return r
}
