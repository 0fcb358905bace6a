// Package manifest implements C5: the JSON `.loads` document listing the
// package references for a coordinated upgrade.
package manifest

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Entry is one manifest record. All five fields are mandatory; the
// json tags fix the canonical key set and ordering.
type Entry struct {
	Product         string   `json:"product"`
	PackageLocation string   `json:"packageLocation"`
	Version         string   `json:"version"`
	Targets         []string `json:"targets"`
	Checksum        string   `json:"checksum"`
}

// Validate checks Entry's non-empty-string and non-empty-list-of-non-empty-strings invariants.
func (e Entry) Validate() error {
	if e.Product == "" {
		return fmt.Errorf("entry: product must not be empty")
	}
	if e.PackageLocation == "" {
		return fmt.Errorf("entry: packageLocation must not be empty")
	}
	if e.Version == "" {
		return fmt.Errorf("entry: version must not be empty")
	}
	if e.Checksum == "" {
		return fmt.Errorf("entry: checksum must not be empty")
	}
	if len(e.Targets) == 0 {
		return fmt.Errorf("entry: targets must not be empty")
	}
	for i, t := range e.Targets {
		if t == "" {
			return fmt.Errorf("entry: targets[%d] must not be empty", i)
		}
	}
	return nil
}

// MalformedError is returned by Parse when the document does not match
// the `.loads` shape: a JSON array of objects with exactly the five
// canonical keys and valid values.
type MalformedError struct {
	Path   string
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed manifest %s: %s", e.Path, e.Reason)
}

var canonicalKeys = map[string]bool{
	"product": true, "packageLocation": true, "version": true,
	"targets": true, "checksum": true,
}

// Manifest is an ordered sequence of Entry, created empty or via Parse,
// mutated only by Add, and serialized at most once via Write.
type Manifest struct {
	Entries []Entry
}

// New returns an empty Manifest.
func New() *Manifest {
	return &Manifest{}
}

// Parse reads a `.loads` JSON document from path.
func Parse(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseBytes(path, data)
}

// ParseBytes parses `.loads` JSON content already read into memory.
// path is used only to label errors.
func ParseBytes(path string, data []byte) (*Manifest, error) {
	var raw []map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &MalformedError{Path: path, Reason: "top level is not a JSON array of objects: " + err.Error()}
	}

	m := &Manifest{}
	for i, obj := range raw {
		if len(obj) != len(canonicalKeys) {
			return nil, &MalformedError{Path: path, Reason: fmt.Sprintf("entry %d has %d keys, want exactly %d", i, len(obj), len(canonicalKeys))}
		}
		for key := range obj {
			if !canonicalKeys[key] {
				return nil, &MalformedError{Path: path, Reason: fmt.Sprintf("entry %d has unexpected key %q", i, key)}
			}
		}

		var e Entry
		if err := json.Unmarshal(mustMarshal(obj), &e); err != nil {
			return nil, &MalformedError{Path: path, Reason: fmt.Sprintf("entry %d: %v", i, err)}
		}
		if err := e.Validate(); err != nil {
			return nil, &MalformedError{Path: path, Reason: fmt.Sprintf("entry %d: %v", i, err)}
		}
		m.Entries = append(m.Entries, e)
	}
	return m, nil
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// v was already produced by a successful json.Unmarshal into
		// map[string]json.RawMessage, so re-marshaling cannot fail.
		panic(err)
	}
	return b
}

// PackageMeta is the subset of package metadata (C4) an Add call needs.
type PackageMeta struct {
	Version  string
	Targets  []string
	Checksum string
}

// Add appends an entry built from product (typically target.Product),
// the caller-supplied packageLocation (preserved verbatim), and the
// package's extracted metadata.
func (m *Manifest) Add(product, packageLocation string, meta PackageMeta) error {
	e := Entry{
		Product:         product,
		PackageLocation: packageLocation,
		Version:         meta.Version,
		Targets:         append([]string(nil), meta.Targets...),
		Checksum:        meta.Checksum,
	}
	if err := e.Validate(); err != nil {
		return err
	}
	m.Entries = append(m.Entries, e)
	return nil
}

// Write serializes the manifest as a 4-space indented JSON array, in
// insertion order.
func (m *Manifest) Write(w io.Writer) error {
	entries := m.Entries
	if entries == nil {
		entries = []Entry{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	return enc.Encode(entries)
}

// WriteFile writes the manifest to path atomically via a helper the
// caller supplies (kept decoupled from internal/atomicfile so this
// package has no filesystem side-channel beyond Parse/os.ReadFile).
func (m *Manifest) WriteFile(path string, writeAtomic func(path string, data []byte) error) error {
	var buf []byte
	var err error
	entries := m.Entries
	if entries == nil {
		entries = []Entry{}
	}
	buf, err = json.MarshalIndent(entries, "", "    ")
	if err != nil {
		return err
	}
	buf = append(buf, '\n')
	return writeAtomic(path, buf)
}
