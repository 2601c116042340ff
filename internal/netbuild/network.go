// Package netbuild implements the network builder (spec.md §4.3, §4.4):
// parsing a declarative network description into a runtime graph of procs,
// wired by in/out-statements, with optional polyphonic replication.
package netbuild

import (
	"github.com/audiograph/flow/internal/cfgtree"
	"github.com/audiograph/flow/internal/classreg"
	"github.com/audiograph/flow/internal/ferr"
	"github.com/audiograph/flow/internal/procinst"
	"github.com/audiograph/flow/internal/recd"
	"github.com/audiograph/flow/internal/value"
	"github.com/audiograph/flow/internal/variable"
)

// PresetPairEntry is one row of the flat (proc,var,channel) table used for
// O(1) dual-preset interpolation (§4.4 step 3, §8 "Preset-pair table length").
type PresetPairEntry struct {
	Proc *procinst.Proc
	Var  *variable.Variable
}

// Network owns an ordered proc list, execution order equal to declaration
// order, plus presets and record-format registry (spec.md §3.4, §4.4).
type Network struct {
	Registry *classreg.Registry
	Parent   *Network
	Subnets  map[string]*Network
	Records  map[string]*recd.Type

	Procs     []*procinst.Proc
	procIndex map[string]*procinst.Proc

	PolyLink  *Network
	PolyIdx   int
	PolyCount int

	PresetsCfg  *cfgtree.Node
	PresetPairs []PresetPairEntry
}

func newNetwork(registry *classreg.Registry, parent *Network, polyIdx, polyCount int) *Network {
	return &Network{
		Registry:  registry,
		Parent:    parent,
		Subnets:   make(map[string]*Network),
		Records:   make(map[string]*recd.Type),
		procIndex: make(map[string]*procinst.Proc),
		PolyIdx:   polyIdx,
		PolyCount: polyCount,
	}
}

func procKey(label string, sfx int) string {
	return ferr.ProcContext(label, sfx)
}

// FindProc resolves a proc by label/sfx within this network only.
func (n *Network) FindProc(label string, sfx int) (*procinst.Proc, bool) {
	p, ok := n.procIndex[procKey(label, sfx)]
	return p, ok
}

// CountProcInstances returns the number of distinct suffix instances of
// label already built in this network (used for poly_limit_cnt and for
// inferring an iteration count from existing proc replication).
func (n *Network) CountProcInstances(label string) int {
	count := 0
	for _, p := range n.Procs {
		if p.Label() == label {
			count++
		}
	}
	return count
}

// resolveNet resolves a remote-statement net label: "_" names the top-level
// (root) network; any other label is searched via nearest-enclosing scope,
// starting at this network and walking up through Parent (§4.3 step 3).
func (n *Network) resolveNet(label string) (*Network, error) {
	if label == "_" {
		root := n
		for root.Parent != nil {
			root = root.Parent
		}
		return root, nil
	}
	for cur := n; cur != nil; cur = cur.Parent {
		if sub, ok := cur.Subnets[label]; ok {
			return sub, nil
		}
	}
	return nil, ferr.Newf(ferr.NotFound, "net %q not found in enclosing scope", label)
}

// Build instantiates a network description, applying §4.4's poly
// replication. Returns one Network per poly replica (length 1 when not
// polyphonic).
func Build(cfg *cfgtree.Node, registry *classreg.Registry, parent *Network, polyCountRequested int) ([]*Network, error) {
	polyCount := polyCountRequested
	if polyCount < 1 {
		polyCount = 1
	}
	var countOverride int
	if err := cfgtree.Readv(cfg, "count", true, &countOverride); err == nil && countOverride > 0 {
		polyCount = countOverride
	}

	replicas := make([]*Network, polyCount)
	for i := 0; i < polyCount; i++ {
		replicas[i] = newNetwork(registry, parent, i, polyCount)
	}
	for i := 0; i < polyCount-1; i++ {
		replicas[i].PolyLink = replicas[i+1]
	}

	recordsNode, _ := cfg.Get("records")
	procsNode, _ := cfg.Get("procs")
	entries, err := orderedProcs(procsNode)
	if err != nil {
		return nil, err
	}

	for _, net := range replicas {
		if recordsNode != nil {
			if err := loadRecordTypes(net, recordsNode); err != nil {
				return nil, err
			}
		}
		for _, e := range entries {
			label, sfx, hasSfx := cfgtree.ParseSuffixedLabel(e.Label)
			if !hasSfx {
				sfx = net.PolyIdx
			} else if polyCount > 1 && sfx != net.PolyIdx {
				return nil, ferr.Newf(ferr.InvalidArg, "proc %q suffix %d does not match poly_idx %d", label, sfx, net.PolyIdx)
			}
			if err := net.buildProc(label, sfx, e.Cfg); err != nil {
				return nil, ferr.Wrap(ferr.OpFailed, ferr.ProcContext(label, sfx), "building proc", err)
			}
		}
		if presetsNode, ok := cfg.Get("presets"); ok {
			net.PresetsCfg = presetsNode
		}
		net.buildPresetPairs()
	}
	return replicas, nil
}

type procEntry struct {
	Label string
	Cfg   *cfgtree.Node
}

// orderedProcs reads the procs node as a list of single-key maps
// (`[{label: {...}}, ...]`), the one cfg shape that survives JSON/YAML
// decoding with declaration order intact: Go map iteration over an object
// node is unordered, but array element order is preserved.
func orderedProcs(procsNode *cfgtree.Node) ([]procEntry, error) {
	if procsNode == nil {
		return nil, nil
	}
	items, err := procsNode.List()
	if err != nil {
		return nil, ferr.Wrap(ferr.Syntax, "", "procs must be an ordered list of single-key maps", err)
	}
	out := make([]procEntry, 0, len(items))
	for _, item := range items {
		keys := item.Keys()
		if len(keys) != 1 {
			return nil, ferr.New(ferr.Syntax, "each procs list entry must have exactly one key")
		}
		label := keys[0]
		cfgNode, _ := item.Get(label)
		out = append(out, procEntry{Label: label, Cfg: cfgNode})
	}
	return out, nil
}

func loadRecordTypes(net *Network, recordsNode *cfgtree.Node) error {
	for _, label := range recordsNode.Keys() {
		rn, _ := recordsNode.Get(label)
		var baseLabel string
		_ = cfgtree.Readv(rn, "base", true, &baseLabel)
		var base *recd.Type
		if baseLabel != "" {
			b, ok := net.Records[baseLabel]
			if !ok {
				return ferr.Newf(ferr.NotFound, "record base type %q not found", baseLabel)
			}
			base = b
		}
		fieldsNode, ok := rn.Get("fields")
		if !ok {
			return ferr.Newf(ferr.Syntax, "record %q missing fields", label)
		}
		var fields []recd.Field
		idx := 0
		for _, fl := range fieldsNode.Keys() {
			fn, _ := fieldsNode.Get(fl)
			var typeStr string
			if err := cfgtree.Readv(fn, "type", false, &typeStr); err != nil {
				return ferr.Wrap(ferr.Syntax, fl, "record field missing type", err)
			}
			tag, err := fieldTag(typeStr)
			if err != nil {
				return err
			}
			fields = append(fields, recd.Field{Label: fl, Type: tag, Index: idx})
			idx++
		}
		t, err := recd.NewType(label, base, fields)
		if err != nil {
			return err
		}
		net.Records[label] = t
	}
	return nil
}

func fieldTag(s string) (value.Tag, error) {
	switch s {
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
	default:
		return 0, ferr.Newf(ferr.Syntax, "unknown record field type %q", s)
	}
}

// buildPresetPairs enumerates every channelized variable into the flat
// preset-pair table (§4.4 step 3, §8).
func (n *Network) buildPresetPairs() {
	n.PresetPairs = n.PresetPairs[:0]
	for _, p := range n.Procs {
		for _, v := range p.Vars() {
			n.PresetPairs = append(n.PresetPairs, PresetPairEntry{Proc: p, Var: v})
			for _, c := range v.ChLink {
				n.PresetPairs = append(n.PresetPairs, PresetPairEntry{Proc: p, Var: c})
			}
		}
	}
}

// Destroy reverses construction order: each proc's destroy runs, then owned
// buffers are released (§4.4 "Network destruction reverses the order").
func (n *Network) Destroy() {
	for i := len(n.Procs) - 1; i >= 0; i-- {
		p := n.Procs[i]
		_ = p.RunDestroy()
		for _, v := range p.AllVars() {
			v.Head.Release()
		}
	}
	n.Procs = nil
	n.procIndex = make(map[string]*procinst.Proc)
}
