package netbuild

import (
	"github.com/audiograph/flow/internal/cfgtree"
	"github.com/audiograph/flow/internal/classreg"
	"github.com/audiograph/flow/internal/ferr"
	"github.com/audiograph/flow/internal/procinst"
	"github.com/audiograph/flow/internal/value"
	"github.com/audiograph/flow/internal/variable"
)

// buildProc instantiates one proc entry per spec.md §4.3 steps 2-15. Step 1
// (label/suffix parsing) has already run in Build.
func (n *Network) buildProc(label string, sfxID int, procCfg *cfgtree.Node) error {
	var className string
	if err := cfgtree.Readv(procCfg, "class", false, &className); err != nil {
		return ferr.Wrap(ferr.Syntax, "", "proc missing class", err)
	}
	class, ok := n.Registry.Lookup(className)
	if !ok {
		return ferr.Newf(ferr.NotFound, "class %q not registered", className)
	}
	if class.PolyLimit != 0 && n.CountProcInstances(label) >= class.PolyLimit {
		return nil // silently skip, per §4.3 step 2
	}

	p := procinst.New(label, sfxID, class)

	if inNode, ok := procCfg.Get("in"); ok {
		if err := n.processStatements(p, inNode, false); err != nil {
			return ferr.Wrap(ferr.Syntax, "in", "parsing in-statements", err)
		}
	}

	if udpNet, ok := procCfg.Get("network"); ok {
		if err := n.buildUDPProxies(p, class, udpNet); err != nil {
			return err
		}
	} else if class.IsUDP {
		if err := n.buildUDPProxies(p, class, class.UDPNetwork); err != nil {
			return err
		}
	}

	if err := n.createDefaultVars(p, class); err != nil {
		return err
	}

	if presetField, ok := procCfg.Get("preset"); ok {
		if err := n.applyClassPresetField(p, class, presetField); err != nil {
			return err
		}
	}

	if argsNode, ok := procCfg.Get("args"); ok {
		if err := n.applyArgs(p, argsNode); err != nil {
			return ferr.Wrap(ferr.Syntax, "args", "applying args", err)
		}
	}

	if inNode, ok := procCfg.Get("in"); ok {
		if err := n.finalizeStatements(p, inNode, false); err != nil {
			return ferr.Wrap(ferr.OpFailed, "in", "connecting in-statements", err)
		}
	}

	if err := p.RunCreate(); err != nil {
		return err
	}

	if err := n.verifyRequiredFields(p); err != nil {
		return err
	}

	n.Procs = append(n.Procs, p)
	n.procIndex[procKey(label, sfxID)] = p

	if outNode, ok := procCfg.Get("out"); ok {
		if err := n.processStatements(p, outNode, true); err != nil {
			return ferr.Wrap(ferr.Syntax, "out", "parsing out-statements", err)
		}
		if err := n.finalizeStatements(p, outNode, true); err != nil {
			return ferr.Wrap(ferr.OpFailed, "out", "connecting out-statements", err)
		}
	}

	if logNode, ok := procCfg.Get("log"); ok {
		n.applyLogStatements(p, logNode)
	}

	n.buildManualNotifyList(p)

	if err := p.NotifyAll(); err != nil {
		return err
	}

	if uiNode, ok := procCfg.Get("ui"); ok {
		_ = uiNode // UI metadata is stored verbatim; consumed by the derived UI description builder, not the runtime.
	}

	return nil
}

// ensureVar finds or creates a top-level variable for desc on p, used by
// in-statement processing (step 3) before default var creation (step 5).
func ensureVar(p *procinst.Proc, class *classreg.Class, label string, sfxID int) (*variable.Variable, error) {
	if v := p.VarByLabel(label, sfxID, variable.AnyChannel); v != nil {
		return v, nil
	}
	desc, ok := class.VarDesc(label)
	if !ok {
		return nil, ferr.Newf(ferr.NotFound, "class %q has no variable %q", class.Label, label)
	}
	v, err := variable.Create(p, desc, label, sfxID, p.NextValueID(), variable.AnyChannel, nil, 0)
	if err != nil {
		return nil, err
	}
	if err := p.AddVar(v); err != nil {
		return nil, err
	}
	return v, nil
}

// processStatements parses an in/out-statement dict and creates the needed
// local variable suffix ids (§4.3 step 3), but does not yet resolve remote
// sides (done in finalizeStatements, once the remote-side ordering
// constraints from the caller are satisfied).
func (n *Network) processStatements(p *procinst.Proc, stmtNode *cfgtree.Node, isOut bool) error {
	for _, key := range stmtNode.Keys() {
		local, err := parseLocalSide(key)
		if err != nil {
			return err
		}
		valNode, _ := stmtNode.Get(key)
		remoteStr, err := valNode.String()
		if err != nil {
			return ferr.New(ferr.Syntax, "statement value must be a string remote reference")
		}
		remote, err := parseRemoteSide(remoteStr)
		if err != nil {
			return err
		}
		count, err := n.resolveIterCount(local, remote, isOut, p)
		if err != nil {
			return err
		}
		if !isOut {
			class := p.Class
			for i := 0; i < count; i++ {
				sfx := resolveSfx(local.Var, i, 0)
				if _, err := ensureVar(p, class, local.Var.Label, sfx); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// resolveIterCount determines the replication count for one statement. Per
// §4.3 step 3 and §8's boundary case, the remote proc and remote var may not
// both iterate; when the controlling element carries no literal count, the
// count is inferred from how many instances already exist on the remote (or
// local, for out-statements) side.
func (n *Network) resolveIterCount(local, remote stmtSide, isOut bool, p *procinst.Proc) (int, error) {
	if (remote.Proc.Iterating || remote.Proc.HasCount) && (remote.Var.Iterating || remote.Var.HasCount) {
		return 0, ferr.New(ferr.Syntax, "both remote proc and remote var iterate")
	}
	switch {
	case remote.Var.HasCount:
		return remote.Var.Count, nil
	case remote.Proc.HasCount:
		return remote.Proc.Count, nil
	case local.Var.HasCount:
		return local.Var.Count, nil
	case remote.Var.Iterating:
		remoteNet, err := n.resolveNet(remote.Net)
		if err != nil {
			return 0, err
		}
		remoteProc, ok := n.lookupRemoteProc(remoteNet, remote, isOut, p)
		if !ok {
			return 1, nil
		}
		count := 0
		for _, v := range remoteProc.Vars() {
			if v.Label == remote.Var.Label {
				count++
			}
		}
		if count == 0 {
			return 0, ferr.Newf(ferr.NotFound, "no instances of %q found to infer iteration count", remote.Var.Label)
		}
		return count, nil
	case remote.Proc.Iterating:
		remoteNet, err := n.resolveNet(remote.Net)
		if err != nil {
			return 0, err
		}
		count := remoteNet.CountProcInstances(remote.Proc.Label)
		if count == 0 {
			return 0, ferr.Newf(ferr.NotFound, "no instances of proc %q found to infer iteration count", remote.Proc.Label)
		}
		return count, nil
	case local.Var.Iterating && isOut:
		count := 0
		for _, v := range p.Vars() {
			if v.Label == local.Var.Label {
				count++
			}
		}
		if count == 0 {
			return 0, ferr.Newf(ferr.NotFound, "no instances of %q found to infer iteration count", local.Var.Label)
		}
		return count, nil
	case local.Var.Iterating:
		return 1, nil
	default:
		return 1, nil
	}
}

func (n *Network) lookupRemoteProc(remoteNet *Network, remote stmtSide, isOut bool, self *procinst.Proc) (*procinst.Proc, bool) {
	sfx := remote.Proc.Base
	if !remote.Proc.HasBase {
		sfx = remoteNet.PolyIdx
	}
	return remoteNet.FindProc(remote.Proc.Label, sfx)
}

// finalizeStatements resolves remote sides and connects src->dst for every
// iteration of every entry (§4.3 step 8 for "in", step 11 for "out").
func (n *Network) finalizeStatements(p *procinst.Proc, stmtNode *cfgtree.Node, isOut bool) error {
	for _, key := range stmtNode.Keys() {
		local, err := parseLocalSide(key)
		if err != nil {
			return err
		}
		valNode, _ := stmtNode.Get(key)
		remoteStr, _ := valNode.String()
		remote, err := parseRemoteSide(remoteStr)
		if err != nil {
			return err
		}
		count, err := n.resolveIterCount(local, remote, isOut, p)
		if err != nil {
			return err
		}
		remoteNet, err := n.resolveNet(remote.Net)
		if err != nil {
			return err
		}
		for i := 0; i < count; i++ {
			localSfx := resolveSfx(local.Var, i, 0)
			remoteProcSfx := resolveSfx(remote.Proc, i, remoteNet.PolyIdx)
			remoteVarSfx := resolveSfx(remote.Var, i, 0)

			remoteProc, ok := remoteNet.FindProc(remote.Proc.Label, remoteProcSfx)
			if !ok {
				return ferr.Newf(ferr.NotFound, "remote proc %s:%d not found", remote.Proc.Label, remoteProcSfx)
			}
			remoteVar := remoteProc.VarByLabel(remote.Var.Label, remoteVarSfx, variable.AnyChannel)
			if remoteVar == nil {
				return ferr.Newf(ferr.NotFound, "remote var %s:%d on %s:%d not found", remote.Var.Label, remoteVarSfx, remoteProc.Label(), remoteProcSfx)
			}
			localVar := p.VarByLabel(local.Var.Label, localSfx, variable.AnyChannel)
			if localVar == nil {
				var err error
				localVar, err = ensureVar(p, p.Class, local.Var.Label, localSfx)
				if err != nil {
					return err
				}
			}
			if isOut {
				if err := variable.Connect(localVar, remoteVar); err != nil {
					return err
				}
			} else {
				if err := variable.Connect(remoteVar, localVar); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// createDefaultVars fulfils §4.3 step 5: every class var-desc not already
// created (by in-statements/proxies) and not flagged runtime gets a default
// "any" variable seeded from its default-value config.
func (n *Network) createDefaultVars(p *procinst.Proc, class *classreg.Class) error {
	for i := range class.Vars {
		desc := &class.Vars[i]
		if desc.Has(classreg.AttrRuntime) || desc.IsProxy() {
			continue
		}
		if p.VarByLabel(desc.Label, 0, variable.AnyChannel) != nil {
			continue
		}
		v, err := variable.Create(p, desc, desc.Label, 0, p.NextValueID(), variable.AnyChannel, nil, 0)
		if err != nil {
			return ferr.Wrap(ferr.InvalidArg, ferr.ProcContext(p.Label(), p.Sfx()), "default var "+desc.Label, err)
		}
		if err := p.AddVar(v); err != nil {
			return err
		}
	}
	return nil
}

// applyClassPresetField applies the proc's `preset:` field (§4.3 step 6): a
// single label or list of labels, resolved against the class's own preset
// descriptors.
func (n *Network) applyClassPresetField(p *procinst.Proc, class *classreg.Class, presetField *cfgtree.Node) error {
	var labels []string
	if presetField.Kind() == cfgtree.KindList {
		items, err := presetField.List()
		if err != nil {
			return err
		}
		for _, it := range items {
			s, err := it.String()
			if err != nil {
				return err
			}
			labels = append(labels, s)
		}
	} else {
		s, err := presetField.String()
		if err != nil {
			return err
		}
		labels = []string{s}
	}
	for _, label := range labels {
		var desc *classreg.PresetDesc
		for i := range class.Presets {
			if class.Presets[i].Label == label {
				desc = &class.Presets[i]
				break
			}
		}
		if desc == nil {
			return ferr.Newf(ferr.NotFound, "class %q has no preset %q", class.Label, label)
		}
		if err := n.channelizeVarDict(p, desc.Values); err != nil {
			return err
		}
	}
	return nil
}

// applyArgs fulfils §4.3 step 7: the args dict overrides default values,
// with iteration syntax mirroring in-statements and channelization allowed.
func (n *Network) applyArgs(p *procinst.Proc, argsNode *cfgtree.Node) error {
	return n.channelizeVarDict(p, argsNode)
}

// channelizeVarDict applies a {var_label[_iter]: value_or_list} dict to p,
// creating/updating channel variables via variable.Channelize. Shared by
// class presets and args.
func (n *Network) channelizeVarDict(p *procinst.Proc, dict *cfgtree.Node) error {
	for _, key := range dict.Keys() {
		e, err := parseEle(key)
		if err != nil {
			return err
		}
		valNode, _ := dict.Get(key)
		desc, ok := p.Class.VarDesc(e.Label)
		if !ok {
			return ferr.Newf(ferr.NotFound, "class %q has no variable %q", p.Class.Label, e.Label)
		}
		count := 1
		if e.HasCount {
			count = e.Count
		}
		for i := 0; i < count; i++ {
			sfx := resolveSfx(e, i, 0)
			anyVar := p.VarByLabel(e.Label, sfx, variable.AnyChannel)
			if anyVar == nil {
				v, err := ensureVar(p, p.Class, e.Label, sfx)
				if err != nil {
					return err
				}
				anyVar = v
			}
			children, err := variable.Channelize(p, anyVar, desc, e.Label, sfx, valNode, anyVar.ValueID)
			if err != nil {
				return err
			}
			for _, c := range children {
				_ = p.AddChannelVar(c) // duplicate slot is expected on update; ignore
			}
		}
	}
	return nil
}

// buildUDPProxies fulfils §4.3 step 4: create matching vars on inner procs
// referenced by each UDP var-desc's proxy field, and instantiates the UDP's
// own inner network as p.InternalNet.
func (n *Network) buildUDPProxies(p *procinst.Proc, class *classreg.Class, udpNet *cfgtree.Node) error {
	if udpNet == nil {
		return nil
	}
	inner, err := Build(udpNet, n.Registry, n, 1)
	if err != nil {
		return ferr.Wrap(ferr.OpFailed, ferr.ProcContext(p.Label(), p.Sfx()), "building UDP inner network", err)
	}
	p.InternalNet = inner[0]
	n.Subnets[p.Label()] = inner[0]

	for i := range class.Vars {
		desc := &class.Vars[i]
		if !desc.IsProxy() {
			continue
		}
		innerProc, ok := inner[0].FindProc(desc.ProxyProcLabel, 0)
		if !ok {
			return ferr.Newf(ferr.NotFound, "UDP proxy target proc %q not found in inner network", desc.ProxyProcLabel)
		}
		innerVar := innerProc.VarByLabel(desc.ProxyVarLabel, 0, variable.AnyChannel)
		if innerVar == nil {
			return ferr.Newf(ferr.NotFound, "UDP proxy target var %q not found on %q", desc.ProxyVarLabel, desc.ProxyProcLabel)
		}
		outerVar, err := variable.Create(p, desc, desc.Label, 0, p.NextValueID(), variable.AnyChannel, nil, 0)
		if err != nil {
			return err
		}
		if err := p.AddVar(outerVar); err != nil {
			return err
		}
		if desc.Has(classreg.AttrUDPOut) {
			if err := variable.Connect(innerVar, outerVar); err != nil {
				return err
			}
		} else {
			if err := variable.Connect(outerVar, innerVar); err != nil {
				return err
			}
		}
	}
	return nil
}

// verifyRequiredFields fulfils part of §4.3 step 10: any input-side
// record-typed variable whose desc declares required_fields must resolve
// every named field on its connected source's record format.
func (n *Network) verifyRequiredFields(p *procinst.Proc) error {
	for _, v := range p.AllVars() {
		if v.Desc == nil || !v.Desc.Has(classreg.AttrRequiredFields) {
			continue
		}
		if v.Source == nil {
			continue
		}
		rf, err := v.Source.Head.AsRecordBuf()
		if err != nil || rf.Format == nil {
			continue
		}
		for _, field := range v.Desc.RequiredFields {
			type hasField interface{ HasField(string) bool }
			if hf, ok := rf.Format.(hasField); ok {
				if !hf.HasField(field) {
					return ferr.Newf(ferr.NotFound, "required field %q not present on record format", field)
				}
			}
		}
	}
	return nil
}

func (n *Network) applyLogStatements(p *procinst.Proc, logNode *cfgtree.Node) {
	var initList, execList *cfgtree.Node
	initList, _ = logNode.Get("init")
	execList, _ = logNode.Get("exec")
	markFromList := func(listNode *cfgtree.Node, mark func(*variable.Variable)) {
		if listNode == nil {
			return
		}
		items, err := listNode.List()
		if err != nil {
			return
		}
		for _, it := range items {
			s, err := it.String()
			if err != nil {
				continue
			}
			e, err := parseEle(s)
			if err != nil {
				continue
			}
			sfx := 0
			if e.HasBase {
				sfx = e.Base
			}
			if v := p.VarByLabel(e.Label, sfx, variable.AnyChannel); v != nil {
				mark(v)
			}
		}
	}
	markFromList(initList, p.MarkLogInit)
	markFromList(execList, p.MarkLogExec)
}

// buildManualNotifyList fulfils §4.3 step 13: buffer-typed variables whose
// descriptor lacks the notify attribute (so auto-notify never fires for
// them) are tracked for explicit per-cycle notification instead.
func (n *Network) buildManualNotifyList(p *procinst.Proc) {
	for _, v := range p.AllVars() {
		if v.Desc == nil {
			continue
		}
		isBuffer := v.Desc.TypeMask&(value.TagAudioBuf|value.TagSpectralBuf|value.TagMidiBuf|value.TagRecordBuf) != 0
		if isBuffer && !v.Desc.Has(classreg.AttrNotify) {
			p.MarkManualNotify(v)
		}
	}
}
