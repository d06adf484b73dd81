package sandbox

import (
	"fmt"
	"sort"

	"go.starlark.net/starlark"
)

// Input gives server code read access to widget values: input.region()
// returns the current value of the widget with id "region".
type Input struct {
	values map[string]starlark.Value
}

var (
	_ starlark.HasAttrs    = (*Input)(nil)
	_ starlark.HasSetField = (*Output)(nil)
	_ starlark.HasSetKey   = (*Output)(nil)
)

func newInput() *Input {
	return &Input{values: make(map[string]starlark.Value)}
}

func (in *Input) String() string        { return "<input>" }
func (in *Input) Type() string          { return "input" }
func (in *Input) Freeze()               {}
func (in *Input) Truth() starlark.Bool  { return true }
func (in *Input) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: input") }

// Attr implements starlark.HasAttrs.
func (in *Input) Attr(name string) (starlark.Value, error) {
	if _, ok := in.values[name]; !ok {
		return nil, fmt.Errorf("app has no input %q (inputs: %v)", name, in.AttrNames())
	}
	return starlark.NewBuiltin("input."+name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
			return nil, err
		}
		return in.values[name], nil
	}), nil
}

// AttrNames implements starlark.HasAttrs.
func (in *Input) AttrNames() []string {
	names := make([]string, 0, len(in.values))
	for name := range in.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Output collects the renderers registered by server code, either as
// output.id = render.text(fn) or output["id"] = render.text(fn).
type Output struct {
	renderers map[string]*Renderer
}

func newOutput() *Output {
	return &Output{renderers: make(map[string]*Renderer)}
}

func (o *Output) String() string        { return "<output>" }
func (o *Output) Type() string          { return "output" }
func (o *Output) Freeze()               {}
func (o *Output) Truth() starlark.Bool  { return true }
func (o *Output) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: output") }

// Attr implements starlark.HasAttrs.
func (o *Output) Attr(name string) (starlark.Value, error) {
	if r, ok := o.renderers[name]; ok {
		return r, nil
	}
	return nil, nil
}

// AttrNames implements starlark.HasAttrs.
func (o *Output) AttrNames() []string {
	names := make([]string, 0, len(o.renderers))
	for name := range o.renderers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetField implements starlark.HasSetField.
func (o *Output) SetField(name string, v starlark.Value) error {
	r, ok := v.(*Renderer)
	if !ok {
		return fmt.Errorf("output.%s must be assigned a render.* value, got %s", name, v.Type())
	}
	o.renderers[name] = r
	return nil
}

// Get implements starlark.Mapping.
func (o *Output) Get(k starlark.Value) (starlark.Value, bool, error) {
	name, ok := starlark.AsString(k)
	if !ok {
		return nil, false, fmt.Errorf("output keys must be strings, got %s", k.Type())
	}
	r, found := o.renderers[name]
	if !found {
		return nil, false, nil
	}
	return r, true, nil
}

// SetKey implements starlark.HasSetKey.
func (o *Output) SetKey(k, v starlark.Value) error {
	name, ok := starlark.AsString(k)
	if !ok {
		return fmt.Errorf("output keys must be strings, got %s", k.Type())
	}
	return o.SetField(name, v)
}
