package resource

import "sort"

// StateSpec declares one manageable attribute of a kind.
type StateSpec struct {
	// Name is the attribute name used in parameter sets.
	Name string

	// Doc is a one-line description.
	Doc string

	newState func(r *Resource) State
}

// Schema is the immutable declaration of a resource kind: its namevar, the
// ordered attributes it manages, and its plain parameters. One schema is
// shared by every resource of the kind.
type Schema struct {
	kind       string
	namevar    string
	states     []StateSpec
	parameters []string
	index      map[string]int
}

func newSchema(kind, namevar string, parameters []string, states ...StateSpec) *Schema {
	s := &Schema{
		kind:       kind,
		namevar:    namevar,
		states:     states,
		parameters: parameters,
		index:      make(map[string]int, len(states)),
	}
	for i, spec := range states {
		s.index[spec.Name] = i
	}
	return s
}

// FileSchema is the schema of file-or-directory resources. States sync in
// this order.
var FileSchema = newSchema("file", ParamPath,
	[]string{ParamPath, ParamRecurse, ParamSource},
	StateSpec{Name: AttrCreate, Doc: "create an empty file when the path is missing", newState: newExistence},
	StateSpec{Name: AttrOwner, Doc: "owning user, by name or uid", newState: newOwner},
	StateSpec{Name: AttrGroup, Doc: "owning group, by name or gid", newState: newGroup},
	StateSpec{Name: AttrSetUID, Doc: "the set-user-id permission bit", newState: newSetUID},
	StateSpec{Name: AttrMode, Doc: "permission bits, in octal", newState: newPermissions},
	StateSpec{Name: AttrChecksum, Doc: "track content changes with md5, md5lite, mtime, time, sha256 or blake3", newState: newChecksum},
)

// Kind returns the kind name.
func (s *Schema) Kind() string { return s.kind }

// Namevar returns the identifying parameter.
func (s *Schema) Namevar() string { return s.namevar }

// States returns the attribute declarations in sync order.
func (s *Schema) States() []StateSpec {
	out := make([]StateSpec, len(s.states))
	copy(out, s.states)
	return out
}

// Parameters returns the plain parameter names.
func (s *Schema) Parameters() []string {
	out := make([]string, len(s.parameters))
	copy(out, s.parameters)
	return out
}

// IsState reports whether name is a managed attribute.
func (s *Schema) IsState(name string) bool {
	_, ok := s.index[name]
	return ok
}

// IsParameter reports whether name is a plain parameter.
func (s *Schema) IsParameter(name string) bool {
	for _, p := range s.parameters {
		if p == name {
			return true
		}
	}
	return false
}

// order returns the sync position of a state name.
func (s *Schema) order(name string) int {
	return s.index[name]
}

// Keys returns every accepted key, sorted.
func (s *Schema) Keys() []string {
	keys := s.Parameters()
	for _, spec := range s.states {
		keys = append(keys, spec.Name)
	}
	sort.Strings(keys)
	return keys
}
