// Package target holds the static registry of build targets: codecs
// (primary products) and peripherals (secondary components shipped
// alongside a codec), along with the dependency edges between them.
package target

import "fmt"

// Target is an immutable descriptor for a build artifact. Equality and
// hashing are by Name; two Targets with the same Name are the same target.
type Target struct {
	Name     string   // unique key, e.g. "sunrise"
	Product  string   // externally visible identifier, e.g. "s53200"
	IsCodec  bool     // true for a primary product image, false for a peripheral
	Deps     []string // names of peripheral targets bundled alongside this one
	Metadata map[string]string
}

// NotFoundError is returned by ByName/ByProduct when no target matches.
type NotFoundError struct {
	Kind string // "name" or "product"
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("target %s %q not found", e.Kind, e.Key)
}

// Registry is a fixed table of Targets, indexed by name and by product.
type Registry struct {
	byName    map[string]Target
	byProduct map[string]Target
	order     []string
}

// NewRegistry builds a Registry from targets and validates it: every
// name in a Deps list must resolve, and no two targets may share a
// Product.
func NewRegistry(targets []Target) (*Registry, error) {
	r := &Registry{
		byName:    make(map[string]Target, len(targets)),
		byProduct: make(map[string]Target, len(targets)),
	}
	for _, t := range targets {
		if _, exists := r.byName[t.Name]; exists {
			return nil, fmt.Errorf("duplicate target name %q", t.Name)
		}
		if other, exists := r.byProduct[t.Product]; exists {
			return nil, fmt.Errorf("targets %q and %q both claim product %q", other.Name, t.Name, t.Product)
		}
		r.byName[t.Name] = t
		r.byProduct[t.Product] = t
		r.order = append(r.order, t.Name)
	}
	for _, t := range targets {
		for _, dep := range t.Deps {
			if _, ok := r.byName[dep]; !ok {
				return nil, fmt.Errorf("target %q depends on unknown target %q", t.Name, dep)
			}
		}
	}
	return r, nil
}

// ByName resolves a target by its unique name.
func (r *Registry) ByName(name string) (Target, error) {
	t, ok := r.byName[name]
	if !ok {
		return Target{}, &NotFoundError{Kind: "name", Key: name}
	}
	return t, nil
}

// ByProduct resolves a target by its externally visible product identifier.
func (r *Registry) ByProduct(product string) (Target, error) {
	t, ok := r.byProduct[product]
	if !ok {
		return Target{}, &NotFoundError{Kind: "product", Key: product}
	}
	return t, nil
}

// Deps resolves the Target values for t's dependency names, in order.
func (r *Registry) Deps(t Target) ([]Target, error) {
	deps := make([]Target, 0, len(t.Deps))
	for _, name := range t.Deps {
		dep, err := r.ByName(name)
		if err != nil {
			return nil, err
		}
		deps = append(deps, dep)
	}
	return deps, nil
}

// Names returns all registered target names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Default is the process-wide target registry, equivalent to
// original_source/loadsfile.py's module-level Targets dict. It is built
// once at package init and is never mutated afterward.
var Default = mustDefault()

func mustDefault() *Registry {
	r, err := NewRegistry([]Target{
		{Name: "asterix", Product: "s52010", IsCodec: true},
		{Name: "asterix.nocrypto", Product: "s52011", IsCodec: true},
		{Name: "carbon", Product: "s52020", IsCodec: true},
		{Name: "drishti", Product: "s52030", IsCodec: true},
		{Name: "tempo", Product: "s52040", IsCodec: true},
		{Name: "halley", Product: "Precision 60 Camera", IsCodec: false},
		{Name: "moody", Product: "SpeakerTrack 60", IsCodec: false},
		{Name: "pyramid", Product: "Pyramid", IsCodec: false},
		{Name: "idefix", Product: "Idefix", IsCodec: false},
		{Name: "sunrise", Product: "s53200", IsCodec: true, Deps: []string{"halley", "moody", "pyramid"}},
		{Name: "zenith", Product: "s53300", IsCodec: true, Deps: []string{"halley", "moody", "pyramid", "idefix"}},
	})
	if err != nil {
		panic("target: invalid default registry: " + err.Error())
	}
	return r
}
