package sandbox

import (
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// passKey is the thread-local key holding the current *renderPass.
const passKey = "leapdash.pass"

// renderPass caches calc results for one render of an app.
type renderPass struct {
	calcs map[*Calc]starlark.Value
}

// Value is a mutable cell that survives across renders of an app.
type Value struct {
	v starlark.Value
}

var (
	_ starlark.HasAttrs = (*Value)(nil)
	_ starlark.Callable = (*Value)(nil)
	_ starlark.Callable = (*Calc)(nil)
)

func (v *Value) String() string        { return fmt.Sprintf("<reactive.value %s>", v.v) }
func (v *Value) Type() string          { return "reactive.value" }
func (v *Value) Freeze()               {}
func (v *Value) Truth() starlark.Bool  { return true }
func (v *Value) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: reactive.value") }
func (v *Value) Name() string          { return "reactive.value" }

// CallInternal returns the current value, so v() reads like v.get().
func (v *Value) CallInternal(_ *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(v.Name(), args, kwargs); err != nil {
		return nil, err
	}
	return v.v, nil
}

// Attr implements starlark.HasAttrs.
func (v *Value) Attr(name string) (starlark.Value, error) {
	switch name {
	case "get":
		return starlark.NewBuiltin("get", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
				return nil, err
			}
			return v.v, nil
		}), nil
	case "set":
		return starlark.NewBuiltin("set", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var nv starlark.Value
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "value", &nv); err != nil {
				return nil, err
			}
			v.v = nv
			return starlark.None, nil
		}), nil
	}
	return nil, nil
}

// AttrNames implements starlark.HasAttrs.
func (v *Value) AttrNames() []string { return []string{"get", "set"} }

// Calc is a derived value computed at most once per render.
type Calc struct {
	fn starlark.Callable
}

func (c *Calc) String() string        { return fmt.Sprintf("<reactive.calc %s>", c.fn.Name()) }
func (c *Calc) Type() string          { return "reactive.calc" }
func (c *Calc) Freeze()               {}
func (c *Calc) Truth() starlark.Bool  { return true }
func (c *Calc) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: reactive.calc") }
func (c *Calc) Name() string          { return c.fn.Name() }

// CallInternal evaluates the calc, reusing the result within a render pass.
func (c *Calc) CallInternal(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(c.Name(), args, kwargs); err != nil {
		return nil, err
	}
	pass, _ := thread.Local(passKey).(*renderPass)
	if pass != nil {
		if v, ok := pass.calcs[c]; ok {
			return v, nil
		}
	}
	v, err := starlark.Call(thread, c.fn, nil, nil)
	if err != nil {
		return nil, err
	}
	if pass != nil {
		pass.calcs[c] = v
	}
	return v, nil
}

func newReactiveModule() *starlarkstruct.Module {
	return &starlarkstruct.Module{
		Name: "reactive",
		Members: starlark.StringDict{
			"value": starlark.NewBuiltin("reactive.value", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var initial starlark.Value = starlark.None
				if err := starlark.UnpackArgs(b.Name(), args, kwargs, "value?", &initial); err != nil {
					return nil, err
				}
				return &Value{v: initial}, nil
			}),
			"calc": starlark.NewBuiltin("reactive.calc", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var fn starlark.Callable
				if err := starlark.UnpackArgs(b.Name(), args, kwargs, "fn", &fn); err != nil {
					return nil, err
				}
				return &Calc{fn: fn}, nil
			}),
		},
	}
}
