// Package buildquery wraps the external build system's package locator,
// the "build system query" collaborator named (but not specified) in
// SPEC_FULL.md §6, and restores the find_pkg / find_target_deps_and_pkgs
// / verify_pkgs helpers from original_source/loadsdir.py that give
// pkg/bundle's BuildWithDeps something real to call.
package buildquery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Client queries the build system for a target's package artifact path.
type Client struct {
	BuildSystemPath string
	Root            string // filesystem root build-relative paths are joined against
}

// NewClient builds a Client; an empty buildSystemPath defaults to "build" on $PATH.
func NewClient(buildSystemPath, root string) *Client {
	if buildSystemPath == "" {
		buildSystemPath = "build"
	}
	return &Client{BuildSystemPath: buildSystemPath, Root: root}
}

// FindPkg asks the build system for the package path produced by
// targetName, optionally scoped to objdir, mirroring
// `build --target <name> [--objdir <d>] --print-target-names -Q`.
func (c *Client) FindPkg(ctx context.Context, targetName, objdir string) (string, error) {
	args := []string{"--target", targetName}
	if objdir != "" {
		args = append(args, "--objdir", objdir)
	}
	args = append(args, "--print-target-names", "-Q")

	out, err := exec.CommandContext(ctx, c.BuildSystemPath, args...).Output()
	if err != nil {
		return "", fmt.Errorf("build system query for %s: %w", targetName, err)
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) != 1 || lines[0] == "" {
		return "", fmt.Errorf("build system query for %s: expected exactly one line, got %d", targetName, len(lines))
	}
	return filepath.Join(c.Root, lines[0]), nil
}

// TargetPkg pairs a target name with the package path the build system
// reports for it.
type TargetPkg struct {
	TargetName string
	Path       string
}

// FindTargetDepsAndPkgs resolves primaryTarget (using explicitPkg if
// given, otherwise querying the build system) followed by each of
// depNames (always queried).
func (c *Client) FindTargetDepsAndPkgs(ctx context.Context, primaryTarget string, explicitPkg string, depNames []string, objdir string) ([]TargetPkg, error) {
	result := make([]TargetPkg, 0, 1+len(depNames))

	primaryPkg := explicitPkg
	if primaryPkg == "" {
		pkg, err := c.FindPkg(ctx, primaryTarget, objdir)
		if err != nil {
			return nil, err
		}
		primaryPkg = pkg
	}
	result = append(result, TargetPkg{TargetName: primaryTarget, Path: primaryPkg})

	for _, dep := range depNames {
		pkg, err := c.FindPkg(ctx, dep, objdir)
		if err != nil {
			return nil, err
		}
		result = append(result, TargetPkg{TargetName: dep, Path: pkg})
	}
	return result, nil
}

// MissingPackageError records one target whose resolved package path
// does not exist on disk.
type MissingPackageError struct {
	TargetName string
	Path       string
}

func (e *MissingPackageError) Error() string {
	return fmt.Sprintf("missing package for target %s: %s", e.TargetName, e.Path)
}

// VerifyPkgs filters pairs to those whose Path exists, returning an
// aggregate error naming every miss if any do not.
func VerifyPkgs(pairs []TargetPkg) ([]TargetPkg, error) {
	var present []TargetPkg
	var missing []error
	for _, p := range pairs {
		if _, err := os.Stat(p.Path); err != nil {
			missing = append(missing, &MissingPackageError{TargetName: p.TargetName, Path: p.Path})
			continue
		}
		present = append(present, p)
	}
	if len(missing) > 0 {
		return present, fmt.Errorf("missing packages:\n%w", errors.Join(missing...))
	}
	return present, nil
}
