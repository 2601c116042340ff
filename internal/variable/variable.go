// Package variable implements the per-proc typed, channelized, connectable
// variable layer described in spec.md §3.3 and §4.2, including the
// lock-free UI-update list used for the cross-thread handoff in §5.
package variable

import (
	"sync/atomic"

	"github.com/audiograph/flow/internal/cfgtree"
	"github.com/audiograph/flow/internal/classreg"
	"github.com/audiograph/flow/internal/ferr"
	"github.com/audiograph/flow/internal/value"
)

// AnyChannel is the wildcard channel index covering unchannelized access.
const AnyChannel = -1

// Owner is the minimal proc-side surface a Variable needs: a place to
// schedule itself for notification and an identity for error context.
// procinst.Proc implements this; keeping it an interface here (rather than
// importing procinst directly) avoids a variable<->procinst import cycle.
type Owner interface {
	Label() string
	Sfx() int
	ScheduleNotify(v *Variable)
}

// Variable is one typed, channelized, connectable slot on a proc (§3.3).
type Variable struct {
	Desc    *classreg.VarDesc
	Label   string
	SfxID   int
	ValueID int
	Ch      int // AnyChannel or a concrete channel index

	Head  value.Value
	Prior *value.Value

	ChLink []*Variable // owned per-channel children of an "any" variable
	Parent *Variable   // back-pointer from a channel child to its "any" parent

	VarLink *Variable // next pointer in the owning proc's variable list

	Source     *Variable   // upstream variable, at most one (non-owning)
	Downstream []*Variable // dependents fed by this variable (non-owning)

	Owner Owner

	// uiNext is the lock-free UI-update list's per-variable next pointer.
	uiNext atomic.Pointer[Variable]
}

// Create allocates a new, unconnected Variable seeded from value_cfg (or the
// descriptor's own default if value_cfg is nil), per §4.2 create().
func Create(owner Owner, desc *classreg.VarDesc, label string, sfxID, valueID, ch int, valueCfg *cfgtree.Node, typeMaskOverride value.Tag) (*Variable, error) {
	mask := desc.TypeMask
	if typeMaskOverride != 0 {
		mask = typeMaskOverride
	}
	v := &Variable{
		Desc:    desc,
		Label:   label,
		SfxID:   sfxID,
		ValueID: valueID,
		Ch:      ch,
		Owner:   owner,
	}
	cfgNode := valueCfg
	if cfgNode == nil {
		cfgNode = desc.Default
	}
	if cfgNode != nil {
		val, err := fromCfg(cfgNode, mask)
		if err != nil {
			return nil, ferr.Wrap(ferr.TypeMismatch, ctx(owner, label, sfxID, ch), "seeding default value", err)
		}
		v.Head = val
	}
	return v, nil
}

func ctx(owner Owner, label string, sfxID, ch int) string {
	ol, os := "", 0
	if owner != nil {
		ol, os = owner.Label(), owner.Sfx()
	}
	return ferr.Context(ol, os, label, sfxID, ch)
}

// fromCfg converts a cfg leaf/list into the first matching tag in mask. Lists
// are rejected here (Channelize handles list fan-out); scalars/strings/bools
// are tried against the mask in a fixed precedence order.
func fromCfg(n *cfgtree.Node, mask value.Tag) (value.Value, error) {
	switch n.Kind() {
	case cfgtree.KindBool:
		if mask&value.TagBool != 0 {
			b, _ := n.Bool()
			return value.Bool(b), nil
		}
	case cfgtree.KindNumber:
		f, _ := n.Float64()
		switch {
		case mask&value.TagFloat64 != 0:
			return value.Float64(f), nil
		case mask&value.TagFloat32 != 0:
			return value.Float32(float32(f)), nil
		case mask&value.TagInt != 0:
			return value.Int(int32(f)), nil
		case mask&value.TagUint != 0:
			if f < 0 {
				return value.Value{}, ferr.New(ferr.TypeMismatch, "negative value for uint variable")
			}
			return value.Uint(uint32(f)), nil
		}
	case cfgtree.KindString:
		if mask&value.TagString != 0 {
			s, _ := n.String()
			return value.String(s), nil
		}
	case cfgtree.KindDict:
		if mask&value.TagCfg != 0 {
			return value.Cfg(n), nil
		}
	}
	return value.Value{}, ferr.Newf(ferr.TypeMismatch, "cfg node of kind %v not representable in mask %s", n.Kind(), mask)
}

// Channelize creates or updates a per-channel child of an "any" variable from
// a cfg node. If the node is a list (and the variable's type is not cfg),
// each list element becomes a successive channel's value (§4.2).
func Channelize(owner Owner, anyVar *Variable, desc *classreg.VarDesc, label string, sfxID int, valueCfg *cfgtree.Node, valueID int) ([]*Variable, error) {
	if anyVar.Ch != AnyChannel {
		return nil, ferr.New(ferr.InvalidState, "channelize called on a non-any variable")
	}
	if valueCfg.Kind() == cfgtree.KindList && desc.TypeMask&value.TagCfg == 0 {
		items, err := valueCfg.List()
		if err != nil {
			return nil, err
		}
		out := make([]*Variable, 0, len(items))
		for i, item := range items {
			cv, err := findOrCreateChannel(owner, anyVar, desc, label, sfxID, valueID, i, item)
			if err != nil {
				return nil, err
			}
			out = append(out, cv)
		}
		return out, nil
	}
	cv, err := findOrCreateChannel(owner, anyVar, desc, label, sfxID, valueID, 0, valueCfg)
	if err != nil {
		return nil, err
	}
	return []*Variable{cv}, nil
}

func findOrCreateChannel(owner Owner, anyVar *Variable, desc *classreg.VarDesc, label string, sfxID, valueID, ch int, cfgNode *cfgtree.Node) (*Variable, error) {
	for _, c := range anyVar.ChLink {
		if c.Ch == ch {
			if err := Set(c, mustFromCfg(cfgNode, desc.TypeMask)); err != nil {
				return nil, err
			}
			return c, nil
		}
	}
	cv, err := Create(owner, desc, label, sfxID, valueID, ch, cfgNode, 0)
	if err != nil {
		return nil, err
	}
	cv.Parent = anyVar
	anyVar.ChLink = append(anyVar.ChLink, cv)
	return cv, nil
}

func mustFromCfg(n *cfgtree.Node, mask value.Tag) value.Value {
	v, err := fromCfg(n, mask)
	if err != nil {
		return value.Value{}
	}
	return v
}

// Find looks up a variable on a proc's variable list by label/sfx/channel.
// Callers typically hold the proc's var-map for O(1) lookup instead; Find is
// the O(n) fallback used during network build before that map exists.
func Find(head *Variable, label string, sfxID, ch int) *Variable {
	for v := head; v != nil; v = v.VarLink {
		if v.Label == label && v.SfxID == sfxID {
			if v.Ch == ch {
				return v
			}
			for _, c := range v.ChLink {
				if c.Ch == ch {
					return c
				}
			}
		}
	}
	return nil
}

// Connect wires src as dst's source. Disallowed if dst already has a source
// (§3.3 invariant). For any→any connections between variables that both have
// channelized children, each matching channel pair is also connected.
func Connect(src, dst *Variable) error {
	if dst.Source != nil {
		return ferr.Newf(ferr.OpFailed, "variable %s already has a source", dst.Label)
	}
	if src.Head.Tag != 0 && dst.Desc != nil && dst.Desc.TypeMask&src.Head.Tag == 0 && src.Head.Tag != value.TagCfg {
		// Type masks are still permitted to diverge when dst is itself
		// untyped yet (TypeMask==0, e.g. a runtime-typed wildcard); only
		// reject when both sides are concretely incompatible.
		if dst.Desc.TypeMask != 0 {
			return ferr.Newf(ferr.TypeMismatch, "source type %s incompatible with destination mask %s", src.Head.Tag, dst.Desc.TypeMask)
		}
	}
	dst.Source = src
	src.Downstream = append(src.Downstream, dst)

	if src.Ch == AnyChannel && dst.Ch == AnyChannel {
		for _, sc := range src.ChLink {
			for _, dc := range dst.ChLink {
				if sc.Ch == dc.Ch && dc.Source == nil {
					dc.Source = sc
					sc.Downstream = append(sc.Downstream, dc)
				}
			}
		}
	}
	return nil
}

// Disconnect drops dst's source pointer and unlinks it from the source's
// downstream list.
func Disconnect(dst *Variable) {
	if dst.Source == nil {
		return
	}
	src := dst.Source
	for i, d := range src.Downstream {
		if d == dst {
			src.Downstream = append(src.Downstream[:i], src.Downstream[i+1:]...)
			break
		}
	}
	dst.Source = nil
}

// Propagate copies v's current Head into every variable connected to it as a
// destination (the Downstream list built by Connect). The engine calls this
// once per proc per cycle, right after that proc's exec, so that a
// downstream proc's own exec later in the same cycle observes its input's
// freshest value instead of whatever Head held at connect time.
func Propagate(v *Variable) {
	for _, d := range v.Downstream {
		d.Head = v.Head
	}
}

// Set assigns a new value to v, converting to v's established type. Fails if
// v is connected to a source (the source owns the value). If the value
// changes and v has the notify attribute, v is scheduled on its owner's
// notify list and appended to the lock-free UI-update list.
func Set(v *Variable, newVal value.Value) error {
	if v.Source != nil {
		return ferr.Newf(ferr.OpFailed, "cannot set %s: connected to a source", v.Label)
	}
	target := v.Head.Tag
	if target == 0 && v.Desc != nil {
		target = firstTag(v.Desc.TypeMask)
	}
	converted := newVal
	if target != 0 && newVal.Tag != target {
		c, err := value.Convert(newVal, target)
		if err != nil {
			return err
		}
		converted = c
	}

	changed := changed(v.Head, converted)
	prior := v.Head
	v.Head = converted
	if changed {
		v.Prior = &prior
		if v.Desc != nil && v.Desc.Has(classreg.AttrNotify) {
			if eltCountGatesNotify(converted) {
				if v.Owner != nil {
					v.Owner.ScheduleNotify(v)
				}
				globalUIList.append(v)
			}
		}
	}
	return nil
}

// eltCountGatesNotify implements the buffer auto-notify rule: a change
// notification occurs only when the element count is nonzero (scalars have
// no element count and always notify on change).
func eltCountGatesNotify(v value.Value) bool {
	n := v.EltCount()
	return n != 0 // -1 (non-buffer) or > 0 both notify; only 0 suppresses
}

func changed(old, new value.Value) bool {
	if old.Tag != new.Tag {
		return true
	}
	if new.Tag == value.TagAudioBuf || new.Tag == value.TagSpectralBuf ||
		new.Tag == value.TagMidiBuf || new.Tag == value.TagRecordBuf {
		return true // buffer producers always re-notify on write
	}
	return !old.Equal(new)
}

func firstTag(mask value.Tag) value.Tag {
	for t := value.Tag(1); t != 0; t <<= 1 {
		if mask&t != 0 {
			return t
		}
	}
	return 0
}

// Get reads v's latest value, converted to targetTag if nonzero.
func Get(v *Variable, targetTag value.Tag) (value.Value, error) {
	if targetTag == 0 || v.Head.Tag == targetTag {
		return v.Head, nil
	}
	return value.Convert(v.Head, targetTag)
}
