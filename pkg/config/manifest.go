package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/converge/pkg/resource"
	"github.com/openfroyo/converge/pkg/source"
)

// Manifest declares the named sources and the file resources of one run.
type Manifest struct {
	// Path is the file the manifest was read from, if any.
	Path string `yaml:"-"`

	Sources   []source.Source `yaml:"sources" validate:"dive"`
	Resources []Declaration   `yaml:"resources" validate:"dive"`
}

// Declaration is one file resource in a manifest. Attributes left out of the
// document are not managed.
type Declaration struct {
	Path     string `yaml:"path" validate:"required,startswith=/"`
	Recurse  Value  `yaml:"recurse"`
	Source   string `yaml:"source"`
	Create   Value  `yaml:"create"`
	Owner    Value  `yaml:"owner"`
	Group    Value  `yaml:"group"`
	SetUID   Value  `yaml:"setuid"`
	Mode     Value  `yaml:"mode"`
	Checksum Value  `yaml:"checksum"`
}

// UnmarshalYAML decodes the declaration key by key so that a key given
// without a value (`checksum:`) is still recorded as present.
func (d *Declaration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected a mapping for a resource", node.Line)
	}
	values := map[string]*Value{
		"recurse":  &d.Recurse,
		"create":   &d.Create,
		"owner":    &d.Owner,
		"group":    &d.Group,
		"setuid":   &d.SetUID,
		"mode":     &d.Mode,
		"checksum": &d.Checksum,
	}
	seen := make(map[string]bool, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		if seen[key.Value] {
			return fmt.Errorf("line %d: key %q already set", key.Line, key.Value)
		}
		seen[key.Value] = true

		var err error
		switch key.Value {
		case "path":
			err = val.Decode(&d.Path)
		case "source":
			err = val.Decode(&d.Source)
		default:
			v, ok := values[key.Value]
			if !ok {
				return fmt.Errorf("line %d: unknown resource attribute %q", key.Line, key.Value)
			}
			err = v.UnmarshalYAML(val)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Value is a manifest scalar kept together with its source text, so that
// `mode: 644` and `mode: 0644` both read as octal.
type Value struct {
	set     bool
	raw     string
	decoded interface{}
}

// UnmarshalYAML records the scalar's text and its decoded form.
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a scalar value", node.Line)
	}
	var decoded interface{}
	if err := node.Decode(&decoded); err != nil {
		return err
	}
	v.set = true
	v.raw = node.Value
	v.decoded = decoded
	return nil
}

// MarshalYAML writes the decoded value back.
func (v Value) MarshalYAML() (interface{}, error) {
	return v.decoded, nil
}

// IsSet reports whether the document named the key.
func (v Value) IsSet() bool { return v.set }

// Text returns the scalar as written.
func (v Value) Text() string { return v.raw }

// Interface returns the decoded scalar: a bool, number, string or nil.
func (v Value) Interface() interface{} { return v.decoded }

// Params converts the declaration to resource parameters. Mode, owner and
// group are passed as written; the other attributes keep their YAML type.
func (d Declaration) Params() resource.Params {
	p := resource.Params{resource.ParamPath: d.Path}
	if d.Source != "" {
		p[resource.ParamSource] = d.Source
	}

	typed := map[string]Value{
		resource.ParamRecurse: d.Recurse,
		resource.AttrCreate:   d.Create,
		resource.AttrSetUID:   d.SetUID,
		resource.AttrChecksum: d.Checksum,
	}
	for key, v := range typed {
		if v.IsSet() {
			p[key] = v.Interface()
		}
	}

	textual := map[string]Value{
		resource.AttrOwner: d.Owner,
		resource.AttrGroup: d.Group,
		resource.AttrMode:  d.Mode,
	}
	for key, v := range textual {
		if !v.IsSet() {
			continue
		}
		if v.Interface() == nil {
			p[key] = nil
			continue
		}
		p[key] = v.Text()
	}
	return p
}

// LoadManifest reads and validates the manifest at path.
func LoadManifest(path string) (*Manifest, error) {
	path = os.ExpandEnv(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.Path = path
	return m, nil
}

// ParseManifest decodes and validates a manifest document. Unknown keys are
// rejected.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	return &m, nil
}

// Validate checks declarations and source names.
func (m *Manifest) Validate() error {
	if err := validator.New().Struct(m); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%s: failed on the '%s' rule", verrs[0].Namespace(), verrs[0].Tag())
		}
		return err
	}

	names := make(map[string]bool, len(m.Sources))
	for _, s := range m.Sources {
		if names[s.Name] {
			return fmt.Errorf("source %q declared twice", s.Name)
		}
		names[s.Name] = true
	}

	paths := make(map[string]bool, len(m.Resources))
	for _, r := range m.Resources {
		path := filepath.Clean(r.Path)
		if paths[path] {
			return fmt.Errorf("resource %s declared twice", path)
		}
		paths[path] = true
	}
	return nil
}

// Registry returns a source registry holding the manifest's sources on top
// of the entries of parent.
func (m *Manifest) Registry(parent *source.Registry) *source.Registry {
	reg := source.NewRegistry()
	if parent != nil {
		for _, name := range parent.Names() {
			if src, ok := parent.Lookup(name); ok {
				reg.Register(name, src)
			}
		}
	}
	for i := range m.Sources {
		src := m.Sources[i]
		reg.Register(src.Name, &src)
	}
	return reg
}
