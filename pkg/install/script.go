package install

import (
	"fmt"
	"strings"
)

// shellQuote wraps s in single quotes, escaping embedded single quotes,
// so s always arrives in the remote command as one shell argument
// regardless of what it contains.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// ScriptMode selects which of the two remote delivery modes a Target
// uses.
type ScriptMode int

const (
	// ModeStreamInstaller pipes the image into a remote installer
	// program reading from stdin.
	ModeStreamInstaller ScriptMode = iota
	// ModePlaceAtPath writes the image to DestPath, then runs PostHook.
	ModePlaceAtPath
)

// Mode reports which delivery mode t uses.
func (t Target) Mode() ScriptMode {
	if t.HasDestPath {
		return ModePlaceAtPath
	}
	return ModeStreamInstaller
}

// RemoteScript builds the single shell command string to run on the
// remote end of the transport. installerArgs is appended verbatim to
// the installer invocation in stream mode (e.g. "-f -" to read stdin);
// it is ignored in place-at-path mode.
func (t Target) RemoteScript(installerArgs string) (string, error) {
	switch t.Mode() {
	case ModeStreamInstaller:
		installer := "install"
		if t.Subtarget != "" {
			installer = fmt.Sprintf("install %s", shellQuote(t.Subtarget))
		}
		if installerArgs != "" {
			return fmt.Sprintf("%s %s", installer, installerArgs), nil
		}
		return installer, nil
	case ModePlaceAtPath:
		dest := t.DestPath
		if dest == "" {
			return "", fmt.Errorf("install target %q: place-at-path mode requires destpath", t.Name)
		}
		fragments := []string{
			fmt.Sprintf("cat > %s", shellQuote(dest)),
		}
		if t.PostHook != "" {
			fragments = append(fragments, strings.ReplaceAll(t.PostHook, "$destpath", shellQuote(dest)))
		}
		return strings.Join(fragments, "; "), nil
	default:
		return "", fmt.Errorf("install target %q: unknown script mode", t.Name)
	}
}

// TriggerScript builds binst.py's pre-serve SSH one-liner: it reads the
// connecting client's address out of SSH_CLIENT on the remote end,
// constructs the upgrade URL against port, and announces it over tsh.
func TriggerScript(port int, loadsPath string) string {
	return fmt.Sprintf(
		`origin=$(echo $SSH_CLIENT | cut -d" " -f1); upgrade_url="http://$origin:%d/%s"; echo "xcom SystemUnit SoftwareUpgrade URL: $upgrade_url" | tsh`,
		port, loadsPath,
	)
}

// HumanBanner is loadsdir.py's fallback banner for an operator to copy
// into a device's own upgrade URL field by hand.
func HumanBanner(ip string, port int) string {
	return fmt.Sprintf("http://%s:%d/", ip, port)
}
