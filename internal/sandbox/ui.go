package sandbox

import (
	"fmt"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// Node kinds.
const (
	KindPage        = "page"
	KindRow         = "row"
	KindColumn      = "column"
	KindCard        = "card"
	KindHeader      = "header"
	KindText        = "text"
	KindSelect      = "input_select"
	KindSlider      = "input_slider"
	KindCheckbox    = "input_checkbox"
	KindTextInput   = "input_text"
	KindNumeric     = "input_numeric"
	KindOutputText  = "output_text"
	KindOutputTable = "output_table"
	KindOutputChart = "output_chart"
	KindOutputUI    = "output_ui"
	KindWalker      = "walker"
)

// Node is an element of a generated app's UI tree.
type Node struct {
	Kind     string
	ID       string
	Label    string
	Text     string
	Level    int
	Width    int
	Choices  []string
	Default  starlark.Value
	Min      float64
	Max      float64
	Step     float64
	Children []*Node
	Table    *Table
}

var _ starlark.HasAttrs = (*Node)(nil)

func (n *Node) String() string {
	if n.ID != "" {
		return fmt.Sprintf("<ui.%s %s>", n.Kind, n.ID)
	}
	return fmt.Sprintf("<ui.%s>", n.Kind)
}
func (n *Node) Type() string          { return "ui.node" }
func (n *Node) Freeze()               {}
func (n *Node) Truth() starlark.Bool  { return true }
func (n *Node) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: ui.node") }

// Attr implements starlark.HasAttrs.
func (n *Node) Attr(name string) (starlark.Value, error) {
	switch name {
	case "kind":
		return starlark.String(n.Kind), nil
	case "id":
		return starlark.String(n.ID), nil
	}
	return nil, nil
}

// AttrNames implements starlark.HasAttrs.
func (n *Node) AttrNames() []string { return []string{"id", "kind"} }

// IsInput reports whether the node is an input widget.
func (n *Node) IsInput() bool {
	switch n.Kind {
	case KindSelect, KindSlider, KindCheckbox, KindTextInput, KindNumeric:
		return true
	}
	return false
}

// Walk visits n and its descendants depth first.
func (n *Node) Walk(fn func(*Node)) {
	fn(n)
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// newUIModule builds the predeclared "ui" module.
func newUIModule() *starlarkstruct.Module {
	return &starlarkstruct.Module{
		Name: "ui",
		Members: starlark.StringDict{
			"page":           starlark.NewBuiltin("ui.page", container(KindPage)),
			"row":            starlark.NewBuiltin("ui.row", container(KindRow)),
			"column":         starlark.NewBuiltin("ui.column", uiColumn),
			"card":           starlark.NewBuiltin("ui.card", container(KindCard)),
			"header":         starlark.NewBuiltin("ui.header", uiHeader),
			"text":           starlark.NewBuiltin("ui.text", uiText),
			"input_select":   starlark.NewBuiltin("ui.input_select", uiInputSelect),
			"input_slider":   starlark.NewBuiltin("ui.input_slider", uiInputSlider),
			"input_checkbox": starlark.NewBuiltin("ui.input_checkbox", uiInputCheckbox),
			"input_text":     starlark.NewBuiltin("ui.input_text", uiInputText),
			"input_numeric":  starlark.NewBuiltin("ui.input_numeric", uiInputNumeric),
			"output_text":    starlark.NewBuiltin("ui.output_text", output(KindOutputText)),
			"output_table":   starlark.NewBuiltin("ui.output_table", output(KindOutputTable)),
			"output_chart":   starlark.NewBuiltin("ui.output_chart", output(KindOutputChart)),
			"output_ui":      starlark.NewBuiltin("ui.output_ui", output(KindOutputUI)),
		},
	}
}

// children converts positional arguments into child nodes. Strings become
// text nodes, lists are flattened and None is skipped.
func children(fn string, args starlark.Tuple) ([]*Node, error) {
	var out []*Node
	for _, arg := range args {
		switch v := arg.(type) {
		case *Node:
			out = append(out, v)
		case starlark.String:
			out = append(out, &Node{Kind: KindText, Text: string(v)})
		case starlark.NoneType:
		case *starlark.List:
			items := make(starlark.Tuple, v.Len())
			for i := range items {
				items[i] = v.Index(i)
			}
			nested, err := children(fn, items)
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
		case starlark.Tuple:
			nested, err := children(fn, v)
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
		default:
			return nil, fmt.Errorf("%s: unexpected child of type %s", fn, arg.Type())
		}
	}
	return out, nil
}

// container builds page, row and card. Titles are accepted by keyword.
func container(kind string) builtinFunc {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var title string
		if err := starlark.UnpackArgs(b.Name(), nil, kwargs, "title?", &title); err != nil {
			return nil, err
		}
		kids, err := children(b.Name(), args)
		if err != nil {
			return nil, err
		}
		return &Node{Kind: kind, Label: title, Children: kids}, nil
	}
}

func uiColumn(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%s: missing argument for width", b.Name())
	}
	width, err := starlark.AsInt32(args[0])
	if err != nil {
		return nil, fmt.Errorf("%s: width: %w", b.Name(), err)
	}
	if err := starlark.UnpackArgs(b.Name(), nil, kwargs); err != nil {
		return nil, err
	}
	kids, err := children(b.Name(), args[1:])
	if err != nil {
		return nil, err
	}
	return &Node{Kind: KindColumn, Width: width, Children: kids}, nil
}

func uiHeader(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var text string
	level := 2
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "text", &text, "level?", &level); err != nil {
		return nil, err
	}
	if level < 1 || level > 6 {
		return nil, fmt.Errorf("%s: level must be between 1 and 6, got %d", b.Name(), level)
	}
	return &Node{Kind: KindHeader, Text: text, Level: level}, nil
}

func uiText(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var text starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "text", &text); err != nil {
		return nil, err
	}
	return &Node{Kind: KindText, Text: display(text)}, nil
}

func uiInputSelect(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var id, label string
	var choices starlark.Iterable
	var selected starlark.Value = starlark.None
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"id", &id, "label", &label, "choices", &choices, "selected?", &selected); err != nil {
		return nil, err
	}
	if err := validID(b.Name(), id); err != nil {
		return nil, err
	}

	var opts []string
	iter := choices.Iterate()
	defer iter.Done()
	var v starlark.Value
	for iter.Next(&v) {
		opts = append(opts, display(v))
	}
	if len(opts) == 0 {
		return nil, fmt.Errorf("%s: choices must not be empty", b.Name())
	}

	def := opts[0]
	if selected != starlark.None {
		def = display(selected)
	}
	return &Node{Kind: KindSelect, ID: id, Label: label, Choices: opts, Default: starlark.String(def)}, nil
}

func uiInputSlider(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var id, label string
	var lo, hi, value starlark.Value
	var step starlark.Value = starlark.MakeInt(1)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"id", &id, "label", &label, "min", &lo, "max", &hi, "value", &value, "step?", &step); err != nil {
		return nil, err
	}
	if err := validID(b.Name(), id); err != nil {
		return nil, err
	}

	nums := make([]float64, 4)
	for i, v := range []starlark.Value{lo, hi, value, step} {
		f, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("%s: min, max, value and step must be numbers, got %s", b.Name(), v.Type())
		}
		nums[i] = f
	}
	if nums[0] > nums[1] {
		return nil, fmt.Errorf("%s: min %v is greater than max %v", b.Name(), nums[0], nums[1])
	}
	if nums[3] <= 0 {
		return nil, fmt.Errorf("%s: step must be positive", b.Name())
	}

	return &Node{
		Kind:    KindSlider,
		ID:      id,
		Label:   label,
		Min:     nums[0],
		Max:     nums[1],
		Step:    nums[3],
		Default: value,
	}, nil
}

func uiInputCheckbox(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var id, label string
	value := false
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "id", &id, "label", &label, "value?", &value); err != nil {
		return nil, err
	}
	if err := validID(b.Name(), id); err != nil {
		return nil, err
	}
	return &Node{Kind: KindCheckbox, ID: id, Label: label, Default: starlark.Bool(value)}, nil
}

func uiInputText(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var id, label, value string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "id", &id, "label", &label, "value?", &value); err != nil {
		return nil, err
	}
	if err := validID(b.Name(), id); err != nil {
		return nil, err
	}
	return &Node{Kind: KindTextInput, ID: id, Label: label, Default: starlark.String(value)}, nil
}

func uiInputNumeric(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var id, label string
	var value starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "id", &id, "label", &label, "value", &value); err != nil {
		return nil, err
	}
	if err := validID(b.Name(), id); err != nil {
		return nil, err
	}
	if _, ok := toFloat(value); !ok {
		return nil, fmt.Errorf("%s: value must be a number, got %s", b.Name(), value.Type())
	}
	return &Node{Kind: KindNumeric, ID: id, Label: label, Step: 1, Default: value}, nil
}

func output(kind string) builtinFunc {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var id string
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "id", &id); err != nil {
			return nil, err
		}
		if err := validID(b.Name(), id); err != nil {
			return nil, err
		}
		return &Node{Kind: kind, ID: id}, nil
	}
}

func validID(fn, id string) error {
	if id == "" {
		return fmt.Errorf("%s: id must not be empty", fn)
	}
	if strings.ContainsAny(id, " \t\n\"'<>&") {
		return fmt.Errorf("%s: invalid id %q", fn, id)
	}
	return nil
}
