// Package classreg implements the class registry (spec.md §4.1): a linear
// scan over (label, vtable) pairs, built once at startup from a top-level
// class dictionary, matching the "registry ≤ low hundreds of entries" note.
package classreg

import (
	"github.com/audiograph/flow/internal/cfgtree"
	"github.com/audiograph/flow/internal/ferr"
	"github.com/audiograph/flow/internal/value"
)

// Attr is the set of per-variable-descriptor attribute flags.
type Attr uint32

const (
	AttrInitOnly Attr = 1 << iota
	AttrUDPOut
	AttrNotify
	AttrLogInit
	AttrLogExec
	AttrUIHidden
	AttrUIDisabled
	AttrRuntime // created by a proc's own create callback, not by default instantiation
	AttrRequiredFields
)

// VarDesc is a class-level variable descriptor: an immutable template shared
// by every instance of the class (spec.md §3.3, §4.1).
type VarDesc struct {
	Label          string
	Doc            string
	TypeMask       value.Tag
	Default        *cfgtree.Node
	RecordFormat   string // name of a registered record format, if record-typed
	RequiredFields []string
	Attrs          Attr
	// ProxyProcLabel/ProxyVarLabel address an inner proc.variable for UDP
	// variable descriptors (spec.md §4.1, §4.3 step 4).
	ProxyProcLabel string
	ProxyVarLabel  string
	// MultiplicityRef names another variable on the same proc whose channel
	// count dictates this variable's iteration count.
	MultiplicityRef string
}

func (d *VarDesc) IsProxy() bool { return d.ProxyProcLabel != "" && d.ProxyVarLabel != "" }
func (d *VarDesc) Has(a Attr) bool { return d.Attrs&a != 0 }

// PresetDesc is a class-level named preset: a dictionary of
// var_label -> value_or_list, applied via §4.3 step 6.
type PresetDesc struct {
	Label  string
	Values *cfgtree.Node
}

// Hooks is the create/notify/exec/destroy/report vtable every class supplies.
// Concrete proc state is passed back and forth as `any`; package procinst
// defines the *Proc type these callbacks actually receive.
type Hooks struct {
	Create  func(p any) error
	Notify  func(p any, valueID int, ch int) error
	Exec    func(p any) error
	Destroy func(p any) error
	Report  func(p any) string
}

// Class is a class descriptor (spec.md §4.1).
type Class struct {
	Label       string
	Hooks       Hooks
	Vars        []VarDesc
	Presets     []PresetDesc
	PolyLimit   int // 0 = unlimited
	IsUDP       bool
	UDPNetwork  *cfgtree.Node // inner network description, for UDP classes
}

func (c *Class) VarDesc(label string) (*VarDesc, bool) {
	for i := range c.Vars {
		if c.Vars[i].Label == label {
			return &c.Vars[i], true
		}
	}
	return nil, false
}

// Registry is a linearly-scanned (label -> *Class) table, built once.
type Registry struct {
	classes []*Class
}

func NewRegistry() *Registry { return &Registry{} }

// Register adds a class, validating flag combinations per §4.1: proxy
// outside a UDP, or the UDP-out attribute outside a UDP class, are load-time
// failures.
func (r *Registry) Register(c *Class) error {
	if c.Label == "" {
		return ferr.New(ferr.Syntax, "class registered with empty label")
	}
	if _, ok := r.Lookup(c.Label); ok {
		return ferr.Newf(ferr.InvalidState, "class %q registered twice", c.Label)
	}
	if c.Hooks.Exec == nil {
		return ferr.Newf(ferr.InvalidState, "class %q missing exec hook", c.Label)
	}
	for _, v := range c.Vars {
		if v.IsProxy() && !c.IsUDP {
			return ferr.Newf(ferr.InvalidState, "class %q: var %q uses proxy outside a UDP class", c.Label, v.Label)
		}
		if v.Has(AttrUDPOut) && !c.IsUDP {
			return ferr.Newf(ferr.InvalidState, "class %q: var %q uses out flag outside a UDP class", c.Label, v.Label)
		}
	}
	r.classes = append(r.classes, c)
	return nil
}

// Lookup finds a class by label via linear scan.
func (r *Registry) Lookup(label string) (*Class, bool) {
	for _, c := range r.classes {
		if c.Label == label {
			return c, true
		}
	}
	return nil, false
}

// All returns every registered class, in registration order.
func (r *Registry) All() []*Class { return r.classes }

// LoadDict adds to r one class per entry of a top-level {class-name: {...}}
// cfg dictionary, per §4.1 "Loading". This only parses the declarative shape
// (vars/presets/poly_limit_cnt); each class's vtable comes from
// hooksFor(className), and a class without one must carry an inline
// "network" (a UDP class).
func LoadDict(r *Registry, dict *cfgtree.Node, hooksFor func(className string) (Hooks, bool)) error {
	for _, className := range dict.Keys() {
		classNode, _ := dict.Get(className)
		hooks, hasHooks := hooksFor(className)

		var udpNet *cfgtree.Node
		isUDP := false
		if netNode, ok := classNode.Get("network"); ok {
			udpNet = netNode
			isUDP = true
		}
		if !hasHooks && !isUDP {
			return ferr.Newf(ferr.InvalidState, "class %q has no registered vtable and no inner network", className)
		}

		polyLimit := 0
		_ = cfgtree.Readv(classNode, "poly_limit_cnt", true, &polyLimit)

		vars, err := loadVarDescs(classNode)
		if err != nil {
			return ferr.Wrap(ferr.Syntax, className, "loading var descriptors", err)
		}

		presets, err := loadPresetDescs(classNode)
		if err != nil {
			return ferr.Wrap(ferr.Syntax, className, "loading class presets", err)
		}

		c := &Class{
			Label:      className,
			Hooks:      hooks,
			Vars:       vars,
			Presets:    presets,
			PolyLimit:  polyLimit,
			IsUDP:      isUDP,
			UDPNetwork: udpNet,
		}
		if isUDP && c.Hooks.Exec == nil {
			// UDP classes run purely by virtue of their inner network's own
			// procs executing; no class-level exec body is required.
			c.Hooks.Exec = func(any) error { return nil }
		}
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func loadVarDescs(classNode *cfgtree.Node) ([]VarDesc, error) {
	varsNode, ok := classNode.Get("vars")
	if !ok {
		return nil, nil
	}
	var out []VarDesc
	for _, label := range varsNode.Keys() {
		vn, _ := varsNode.Get(label)
		vd := VarDesc{Label: label}
		_ = cfgtree.Readv(vn, "doc", true, &vd.Doc)
		_ = cfgtree.Readv(vn, "proxy_proc", true, &vd.ProxyProcLabel)
		_ = cfgtree.Readv(vn, "proxy_var", true, &vd.ProxyVarLabel)
		_ = cfgtree.Readv(vn, "record_format", true, &vd.RecordFormat)
		_ = cfgtree.Readv(vn, "multiplicity_ref", true, &vd.MultiplicityRef)

		var typeStr string
		if err := cfgtree.Readv(vn, "type", false, &typeStr); err != nil {
			return nil, ferr.Wrap(ferr.Syntax, label, "var missing type", err)
		}
		mask, err := parseTypeMask(typeStr)
		if err != nil {
			return nil, ferr.Wrap(ferr.Syntax, label, "var type", err)
		}
		vd.TypeMask = mask

		if def, ok := vn.Get("default"); ok {
			vd.Default = def
		}

		var attrList []string
		if attrsNode, ok := vn.Get("attrs"); ok {
			items, _ := attrsNode.List()
			for _, it := range items {
				s, _ := it.String()
				attrList = append(attrList, s)
			}
		}
		vd.Attrs = parseAttrs(attrList)

		if reqNode, ok := vn.Get("required_fields"); ok {
			items, _ := reqNode.List()
			for _, it := range items {
				s, _ := it.String()
				vd.RequiredFields = append(vd.RequiredFields, s)
			}
			vd.Attrs |= AttrRequiredFields
		}
		out = append(out, vd)
	}
	return out, nil
}

func loadPresetDescs(classNode *cfgtree.Node) ([]PresetDesc, error) {
	presetsNode, ok := classNode.Get("presets")
	if !ok {
		return nil, nil
	}
	var out []PresetDesc
	for _, label := range presetsNode.Keys() {
		vn, _ := presetsNode.Get(label)
		out = append(out, PresetDesc{Label: label, Values: vn})
	}
	return out, nil
}

func parseTypeMask(s string) (value.Tag, error) {
	// A single type name, or "|"-joined for runtime-typed variables.
	var mask value.Tag
	cur := ""
	names := append(splitPipe(s), "")
	for i, n := range names {
		if i == len(names)-1 && n == "" {
			break
		}
		cur = n
		t, err := tagFromName(cur)
		if err != nil {
			return 0, err
		}
		mask |= t
	}
	return mask, nil
}

func splitPipe(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '|' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func tagFromName(n string) (value.Tag, error) {
	switch n {
	case "bool":
		return value.TagBool, nil
	case "int":
		return value.TagInt, nil
	case "uint":
		return value.TagUint, nil
	case "float32":
		return value.TagFloat32, nil
	case "float64":
		return value.TagFloat64, nil
	case "string":
		return value.TagString, nil
	case "cfg":
		return value.TagCfg, nil
	case "midimsg":
		return value.TagMidiMsg, nil
	case "audio":
		return value.TagAudioBuf, nil
	case "spectral":
		return value.TagSpectralBuf, nil
	case "midibuf":
		return value.TagMidiBuf, nil
	case "record":
		return value.TagRecordBuf, nil
	default:
		return 0, ferr.Newf(ferr.Syntax, "unknown variable type %q", n)
	}
}

func parseAttrs(names []string) Attr {
	var a Attr
	for _, n := range names {
		switch n {
		case "init_only":
			a |= AttrInitOnly
		case "out":
			a |= AttrUDPOut
		case "notify":
			a |= AttrNotify
		case "log_init":
			a |= AttrLogInit
		case "log_exec":
			a |= AttrLogExec
		case "ui_hidden":
			a |= AttrUIHidden
		case "ui_disabled":
			a |= AttrUIDisabled
		case "runtime":
			a |= AttrRuntime
		}
	}
	return a
}
