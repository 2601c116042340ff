// Package preset implements the preset engine (spec.md §4.5): value-list
// presets, dual (interpolated) presets, and probabilistic multi-preset
// selection, applied against a built netbuild.Network.
package preset

import (
	"math/rand"

	"github.com/audiograph/flow/internal/cfgtree"
	"github.com/audiograph/flow/internal/ferr"
	"github.com/audiograph/flow/internal/netbuild"
	"github.com/audiograph/flow/internal/value"
	"github.com/audiograph/flow/internal/variable"
)

// Record is one (proc, var, channel, value) leaf produced while parsing a
// value-list preset.
type Record struct {
	ProcLabel string
	ProcSfx   int
	VarLabel  string
	VarSfx    int
	Ch        int
	Value     cfgtree.Node
	// InnerPresetLabel names an inner-network preset to recurse into,
	// instead of a literal value, for a poly/UDP holder (§4.5).
	InnerPresetLabel string
	InnerProcLabel   string
	InnerProcSfx     int
}

// ValueList is a parsed value-list preset: a flat list of leaf records.
type ValueList struct {
	Label   string
	Records []Record
}

// Dual is a parsed dual preset: primary/secondary value-list presets plus an
// interpolation coefficient.
type Dual struct {
	Label              string
	PrimaryLabel       string
	SecondaryLabel     string
	Coeff              float64
}

// Collection holds every preset parsed from one network's presets cfg.
type Collection struct {
	ValueLists map[string]*ValueList
	Duals      map[string]*Dual
}

// Parse parses a network's presets cfg node (§6.3) into a Collection.
func Parse(presetsCfg *cfgtree.Node) (*Collection, error) {
	c := &Collection{ValueLists: make(map[string]*ValueList), Duals: make(map[string]*Dual)}
	if presetsCfg == nil {
		return c, nil
	}
	for _, label := range presetsCfg.Keys() {
		node, _ := presetsCfg.Get(label)
		if node.Kind() == cfgtree.KindList {
			items, err := node.List()
			if err != nil {
				return nil, err
			}
			if len(items) == 3 {
				priLabel, err1 := items[0].String()
				secLabel, err2 := items[1].String()
				coeff, err3 := items[2].Float64()
				if err1 == nil && err2 == nil && err3 == nil {
					c.Duals[label] = &Dual{Label: label, PrimaryLabel: priLabel, SecondaryLabel: secLabel, Coeff: clamp01(coeff)}
					continue
				}
			}
			return nil, ferr.Newf(ferr.Syntax, "preset %q: list form must be [primary, secondary, coeff]", label)
		}
		vl, err := parseValueList(label, node)
		if err != nil {
			return nil, err
		}
		c.ValueLists[label] = vl
	}
	return c, nil
}

func parseValueList(label string, dict *cfgtree.Node) (*ValueList, error) {
	vl := &ValueList{Label: label}
	for _, procKey := range dict.Keys() {
		procNode, _ := dict.Get(procKey)
		procLabel, procSfx, _ := cfgtree.ParseSuffixedLabel(procKey)

		if s, err := procNode.String(); err == nil {
			vl.Records = append(vl.Records, Record{
				ProcLabel: procLabel, ProcSfx: procSfx,
				InnerPresetLabel: s, InnerProcLabel: procLabel, InnerProcSfx: procSfx,
			})
			continue
		}

		for _, varKey := range procNode.Keys() {
			varNode, _ := procNode.Get(varKey)
			varLabel, varSfx, _ := cfgtree.ParseSuffixedLabel(varKey)
			if varNode.Kind() == cfgtree.KindList {
				items, err := varNode.List()
				if err != nil {
					return nil, err
				}
				for ch, item := range items {
					vl.Records = append(vl.Records, Record{
						ProcLabel: procLabel, ProcSfx: procSfx,
						VarLabel: varLabel, VarSfx: varSfx, Ch: ch, Value: *item,
					})
				}
				continue
			}
			vl.Records = append(vl.Records, Record{
				ProcLabel: procLabel, ProcSfx: procSfx,
				VarLabel: varLabel, VarSfx: varSfx, Ch: variable.AnyChannel, Value: *varNode,
			})
		}
	}
	return vl, nil
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// Apply applies a value-list preset to net, optionally restricted to a
// single poly suffix id (restrictSfx < 0 means unrestricted), per §4.5.1.
func (c *Collection) Apply(net *netbuild.Network, label string, restrictSfx int) error {
	vl, ok := c.ValueLists[label]
	if !ok {
		return ferr.Newf(ferr.NotFound, "preset %q not found", label)
	}
	return c.applyValueList(net, vl, restrictSfx)
}

func (c *Collection) applyValueList(net *netbuild.Network, vl *ValueList, restrictSfx int) error {
	for _, r := range vl.Records {
		if restrictSfx >= 0 && r.ProcSfx != restrictSfx {
			continue
		}
		p, ok := net.FindProc(r.ProcLabel, r.ProcSfx)
		if !ok {
			return ferr.Newf(ferr.NotFound, "preset %q: proc %s:%d not found", vl.Label, r.ProcLabel, r.ProcSfx)
		}
		if r.InnerPresetLabel != "" {
			inner, ok := p.InternalNet.(*netbuild.Network)
			if !ok {
				return ferr.Newf(ferr.InvalidState, "preset %q: proc %s:%d has no inner network", vl.Label, r.ProcLabel, r.ProcSfx)
			}
			innerColl, err := Parse(inner.PresetsCfg)
			if err != nil {
				return err
			}
			if err := innerColl.Apply(inner, r.InnerPresetLabel, -1); err != nil {
				return err
			}
			continue
		}
		v := p.VarByLabel(r.VarLabel, r.VarSfx, r.Ch)
		if v == nil {
			return ferr.Newf(ferr.NotFound, "preset %q: var %s:%d@%d not found on %s:%d", vl.Label, r.VarLabel, r.VarSfx, r.Ch, r.ProcLabel, r.ProcSfx)
		}
		val, err := valueFromNode(&r.Value, v.Desc.TypeMask)
		if err != nil {
			return err
		}
		if err := variable.Set(v, val); err != nil {
			return err
		}
	}
	return nil
}

func valueFromNode(n *cfgtree.Node, mask value.Tag) (value.Value, error) {
	switch n.Kind() {
	case cfgtree.KindBool:
		b, _ := n.Bool()
		return value.Bool(b), nil
	case cfgtree.KindNumber:
		f, _ := n.Float64()
		if mask&value.TagFloat64 != 0 {
			return value.Float64(f), nil
		}
		if mask&value.TagFloat32 != 0 {
			return value.Float32(float32(f)), nil
		}
		if mask&value.TagInt != 0 {
			return value.Int(int32(f)), nil
		}
		if mask&value.TagUint != 0 {
			return value.Uint(uint32(f)), nil
		}
		return value.Float64(f), nil
	case cfgtree.KindString:
		s, _ := n.String()
		return value.String(s), nil
	default:
		return value.Cfg(n), nil
	}
}

// ApplyDual applies a dual preset (§4.5.1): for every variable present in
// either the primary or secondary preset, numeric values interpolate as
// pri + coeff*(sec-pri); non-numeric values fall through to the primary.
func (c *Collection) ApplyDual(net *netbuild.Network, label string, restrictSfx int) error {
	d, ok := c.Duals[label]
	if !ok {
		return ferr.Newf(ferr.NotFound, "dual preset %q not found", label)
	}
	return c.applyDual(net, d, restrictSfx)
}

func (c *Collection) applyDual(net *netbuild.Network, d *Dual, restrictSfx int) error {
	pri, ok := c.ValueLists[d.PrimaryLabel]
	if !ok {
		return ferr.Newf(ferr.NotFound, "dual preset %q: primary %q not found", d.Label, d.PrimaryLabel)
	}
	sec := c.ValueLists[d.SecondaryLabel]

	secIndex := make(map[string]*Record)
	if sec != nil {
		for i := range sec.Records {
			r := &sec.Records[i]
			secIndex[recordKey(r)] = r
		}
	}

	for i := range pri.Records {
		r := &pri.Records[i]
		if restrictSfx >= 0 && r.ProcSfx != restrictSfx {
			continue
		}
		if r.InnerPresetLabel != "" {
			continue // inner-network dual recursion is not supported; apply the value-list form to inner nets directly
		}
		p, ok := net.FindProc(r.ProcLabel, r.ProcSfx)
		if !ok {
			continue
		}
		v := p.VarByLabel(r.VarLabel, r.VarSfx, r.Ch)
		if v == nil {
			continue
		}
		priVal, err := valueFromNode(&r.Value, v.Desc.TypeMask)
		if err != nil {
			return err
		}
		result := priVal
		if secRec, ok := secIndex[recordKey(r)]; ok {
			secVal, err := valueFromNode(&secRec.Value, v.Desc.TypeMask)
			if err != nil {
				return err
			}
			if value.IsNumeric(priVal.Tag) && value.IsNumeric(secVal.Tag) {
				pf, _ := value.Numeric(priVal)
				sf, _ := value.Numeric(secVal)
				interp := pf + d.Coeff*(sf-pf)
				result, err = value.FromNumeric(interp, v.Desc.TypeMask)
				if err != nil {
					return err
				}
			}
			delete(secIndex, recordKey(r))
		}
		if err := variable.Set(v, result); err != nil {
			return err
		}
	}
	// Any secondary-only variables (present in sec but not pri) are set
	// directly from the secondary value, per "for every variable present in
	// either preset".
	for _, r := range secIndex {
		if restrictSfx >= 0 && r.ProcSfx != restrictSfx {
			continue
		}
		p, ok := net.FindProc(r.ProcLabel, r.ProcSfx)
		if !ok {
			continue
		}
		v := p.VarByLabel(r.VarLabel, r.VarSfx, r.Ch)
		if v == nil {
			continue
		}
		secVal, err := valueFromNode(&r.Value, v.Desc.TypeMask)
		if err != nil {
			return err
		}
		if err := variable.Set(v, secVal); err != nil {
			return err
		}
	}
	return nil
}

func recordKey(r *Record) string {
	return ferr.Context(r.ProcLabel, r.ProcSfx, r.VarLabel, r.VarSfx, r.Ch)
}

// Candidate is one entry in a probabilistic multi-preset selection list
// (§4.5.2).
type Candidate struct {
	Label string
	Rank  int
}

// SelectOpts controls probabilistic multi-preset selection.
type SelectOpts struct {
	PrimaryRankWeighted   bool
	SecondaryRankWeighted bool
	Interpolate           bool
	Coeffs                []float64 // candidate-supplied interpolation coefficients; mean of nonzero entries is used
}

// Select picks a primary and (if interpolating) secondary label from
// candidates, per §4.5.2's rank-weighted-random scheme, and returns the
// clamped mean interpolation coefficient.
func Select(candidates []Candidate, opts SelectOpts, rng *rand.Rand) (primary, secondary string, coeff float64, err error) {
	if len(candidates) == 0 {
		return "", "", 0, ferr.New(ferr.InvalidArg, "no preset candidates supplied")
	}
	pool := append([]Candidate(nil), candidates...)

	pick := func(pool []Candidate, weighted bool) (Candidate, []Candidate) {
		if !weighted || len(pool) == 1 {
			idx := rng.Intn(len(pool))
			chosen := pool[idx]
			rest := append(append([]Candidate(nil), pool[:idx]...), pool[idx+1:]...)
			return chosen, rest
		}
		distinctRanks := distinctRankProduct(pool)
		total := 0
		weights := make([]int, len(pool))
		for i, c := range pool {
			w := c.Rank * distinctRanks
			weights[i] = w
			total += w
		}
		if total <= 0 {
			idx := rng.Intn(len(pool))
			chosen := pool[idx]
			rest := append(append([]Candidate(nil), pool[:idx]...), pool[idx+1:]...)
			return chosen, rest
		}
		draw := rng.Intn(total)
		acc := 0
		for i, w := range weights {
			acc += w
			if draw < acc {
				chosen := pool[i]
				rest := append(append([]Candidate(nil), pool[:i]...), pool[i+1:]...)
				return chosen, rest
			}
		}
		chosen := pool[len(pool)-1]
		return chosen, pool[:len(pool)-1]
	}

	priChosen, rest := pick(pool, opts.PrimaryRankWeighted)
	primary = priChosen.Label

	if !opts.Interpolate {
		return primary, "", 0, nil
	}
	var secChosen Candidate
	if len(rest) == 1 {
		secChosen = rest[0]
	} else if len(rest) > 1 {
		secChosen, _ = pick(rest, opts.SecondaryRankWeighted)
	} else {
		return primary, "", 0, nil
	}
	secondary = secChosen.Label

	sum, n := 0.0, 0
	for _, c := range opts.Coeffs {
		if c != 0 {
			sum += c
			n++
		}
	}
	if n > 0 {
		coeff = clamp01(sum / float64(n))
	}
	return primary, secondary, coeff, nil
}

// distinctRankProduct scales rank-weighted draws by the product of all
// distinct ranks present in pool, so weight arithmetic stays in integers
// (§4.5.2).
func distinctRankProduct(pool []Candidate) int {
	seen := make(map[int]bool)
	product := 1
	for _, c := range pool {
		if !seen[c.Rank] {
			seen[c.Rank] = true
			product *= c.Rank
		}
	}
	if product == 0 {
		return 1
	}
	return product
}
