// Package catalog provides the read-only per-tenant Action Catalog and the
// structured tenant knowledge object used by the context augmentation loop.
//
// The catalog is injected configuration: built once at wiring time, never
// mutated afterwards, safe for concurrent readers without locking.
package catalog

import (
	"fmt"
	"sort"
	"strings"
)

// ParameterSpec describes one parameter of an action's schema.
type ParameterSpec struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // "string", "number", "boolean", "object"
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
}

// Policy holds the per-action safety attributes consulted by the policy
// enforcer and the critique gate.
type Policy struct {
	// MaxConfidence caps the model's self-reported confidence, 1-10.
	MaxConfidence int `json:"max_confidence"`
	// IsDestructive forces destructive handling regardless of the model's
	// own claim.
	IsDestructive bool `json:"is_destructive"`
	// RequiresConfirmation forces a user confirmation round-trip.
	RequiresConfirmation bool `json:"requires_confirmation"`
}

// PermissiveDefaultPolicy is applied to action names absent from the catalog.
// It is deliberately generous: the existence check blocks unknown actions
// before this policy can matter, but downstream code must still get a
// well-formed policy object.
func PermissiveDefaultPolicy() Policy {
	return Policy{MaxConfidence: 10}
}

// ActionSpec is one catalog entry: name, parameter schema, policy attributes.
type ActionSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  []ParameterSpec `json:"parameters,omitempty"`
	Policy      Policy          `json:"policy"`
}

// RequiredParameters returns the names of required parameters, in schema
// order.
func (a *ActionSpec) RequiredParameters() []string {
	var required []string
	for _, p := range a.Parameters {
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return required
}

// Catalog is the read-only set of actions available to one tenant.
type Catalog struct {
	tenantID string
	actions  map[string]*ActionSpec
	order    []string
}

// New builds a catalog from specs. Duplicate or unnamed actions are rejected
// at wiring time so runtime lookups never have to care.
func New(tenantID string, specs ...*ActionSpec) (*Catalog, error) {
	c := &Catalog{
		tenantID: tenantID,
		actions:  make(map[string]*ActionSpec, len(specs)),
	}
	for _, spec := range specs {
		if spec.Name == "" {
			return nil, fmt.Errorf("action name is required")
		}
		if _, exists := c.actions[spec.Name]; exists {
			return nil, fmt.Errorf("duplicate action: %s", spec.Name)
		}
		if spec.Policy.MaxConfidence < 1 || spec.Policy.MaxConfidence > 10 {
			return nil, fmt.Errorf("action %s: max_confidence must be in [1,10], got %d",
				spec.Name, spec.Policy.MaxConfidence)
		}
		c.actions[spec.Name] = spec
		c.order = append(c.order, spec.Name)
	}
	return c, nil
}

// TenantID returns the tenant this catalog belongs to.
func (c *Catalog) TenantID() string {
	return c.tenantID
}

// Lookup returns the ActionSpec for an action name, or nil if absent. This is the
// existence check - it runs before any policy defaulting.
func (c *Catalog) Lookup(name string) *ActionSpec {
	return c.actions[name]
}

// Has reports whether the action exists in the catalog.
func (c *Catalog) Has(name string) bool {
	_, ok := c.actions[name]
	return ok
}

// PolicyFor returns the policy for an action, falling back to the permissive
// default for unknown names. Callers must consult Lookup first - an unknown
// action is blocked on existence, not on policy.
func (c *Catalog) PolicyFor(name string) Policy {
	if spec, ok := c.actions[name]; ok {
		return spec.Policy
	}
	return PermissiveDefaultPolicy()
}

// Names returns action names in registration order.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.order))
	copy(names, c.order)
	return names
}

// Specs returns all action specs in registration order.
func (c *Catalog) Specs() []*ActionSpec {
	specs := make([]*ActionSpec, 0, len(c.order))
	for _, name := range c.order {
		specs = append(specs, c.actions[name])
	}
	return specs
}

// Summary renders a compact one-line-per-action description for inclusion in
// critique prompts.
func (c *Catalog) Summary() string {
	var b strings.Builder
	for _, name := range c.order {
		spec := c.actions[name]
		b.WriteString("- ")
		b.WriteString(name)
		if required := spec.RequiredParameters(); len(required) > 0 {
			b.WriteString(" (requires: ")
			b.WriteString(strings.Join(required, ", "))
			b.WriteString(")")
		}
		if spec.Policy.IsDestructive {
			b.WriteString(" [destructive]")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// =============================================================================
// Tenant Knowledge
// =============================================================================

// Knowledge is the structured per-tenant knowledge object the augmentation
// loop resolves context keys against. Keys are dotted paths into a nested
// map, e.g. "business.opening_hours".
type Knowledge struct {
	values map[string]any
}

// NewKnowledge wraps a nested map as a knowledge object. A nil map yields an
// empty but usable object.
func NewKnowledge(values map[string]any) *Knowledge {
	if values == nil {
		values = map[string]any{}
	}
	return &Knowledge{values: values}
}

// Resolve walks a dotted path. Returns the value and true on success.
func (k *Knowledge) Resolve(key string) (any, bool) {
	current := any(k.values)
	for _, part := range strings.Split(key, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// All returns every leaf value keyed by dotted path, sorted by key. Used for
// the final full-knowledge fallback call.
func (k *Knowledge) All() map[string]any {
	flat := make(map[string]any)
	flatten("", k.values, flat)
	return flat
}

// Keys returns all dotted leaf paths, sorted.
func (k *Knowledge) Keys() []string {
	flat := k.All()
	keys := make([]string, 0, len(flat))
	for key := range flat {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func flatten(prefix string, value any, out map[string]any) {
	m, ok := value.(map[string]any)
	if !ok {
		out[prefix] = value
		return
	}
	for key, child := range m {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		flatten(path, child, out)
	}
}
