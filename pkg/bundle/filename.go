package bundle

import (
	"fmt"
	"regexp"

	"github.com/loadsctl/loadsctl/pkg/target"
)

// versionPattern matches "<letters><d>.<d>.<d> <11-40 hex chars>( rest)?",
// e.g. "ce9.3.0 92f9c9ac866 extra stuff".
var versionPattern = regexp.MustCompile(`^([A-Za-z]+)(\d+)\.(\d+)\.(\d+) ([0-9a-fA-F]{11,40})(?: .*)?$`)

// MalformedVersionError is returned when a package's version string does
// not match the grammar `^[A-Za-z]+\d+\.\d+\.\d+ [0-9a-fA-F]{11,40}( .*)?$`.
type MalformedVersionError struct {
	Version string
}

func (e *MalformedVersionError) Error() string {
	return fmt.Sprintf("malformed version string %q", e.Version)
}

// VersionFragment turns a package version string into the path fragment
// used by preferred filenames: "<letters>_<d>_<d>_<d>-<commit>".
func VersionFragment(version string) (string, error) {
	m := versionPattern.FindStringSubmatch(version)
	if m == nil {
		return "", &MalformedVersionError{Version: version}
	}
	letters, major, minor, patch, commit := m[1], m[2], m[3], m[4], m[5]
	return fmt.Sprintf("%s%s_%s_%s-%s", letters, major, minor, patch, commit), nil
}

// PreferredFilename derives the in-bundle filename for tgt at a given
// package version: "<product><fragment><suffix>" for a codec,
// "<name><fragment><suffix>" for a peripheral.
func PreferredFilename(tgt target.Target, version, suffix string) (string, error) {
	fragment, err := VersionFragment(version)
	if err != nil {
		return "", err
	}
	if tgt.IsCodec {
		return tgt.Product + fragment + suffix, nil
	}
	return tgt.Name + fragment + suffix, nil
}
