// Package procinst implements the Proc instance (spec.md §3.4): one node in
// the dataflow graph, owning its variables and class-specific state, with a
// create/notify/exec/destroy lifecycle.
package procinst

import (
	"github.com/audiograph/flow/internal/classreg"
	"github.com/audiograph/flow/internal/ferr"
	"github.com/audiograph/flow/internal/variable"
)

type varMapKey struct {
	valueID int
	ch      int
}

// Proc is one dataflow graph node (spec.md §3.4). Class, InternalNet and
// Ctx are held as `any` to avoid import cycles with classreg/netbuild/
// runtime; helper methods in those packages do the type assertion.
type Proc struct {
	label string
	sfxID int

	Class *classreg.Class

	varHead *variable.Variable
	varTail *variable.Variable
	varMap  map[varMapKey]*variable.Variable

	notifyList []*variable.Variable
	logInit    []*variable.Variable
	logExec    []*variable.Variable
	manualNotifyVars []*variable.Variable

	// InternalNet holds a *netbuild.Network for polyphony or UDP instances.
	InternalNet any
	// Ctx holds the owning *runtime.Engine.
	Ctx any
	// State is class-specific opaque state allocated by the class's create
	// callback.
	State any

	// Presets holds this proc's instance-level *preset.Collection.
	Presets any

	halted bool

	nextValueID int
}

// NextValueID hands out the next value_id slot for a newly created variable
// on this proc. Channel children of an "any" variable share their parent's
// value_id; only the "any" variable itself consumes a new one.
func (p *Proc) NextValueID() int {
	id := p.nextValueID
	p.nextValueID++
	return id
}

// New creates a Proc shell. Variables are added via AddVar during network
// build (§4.3); the class's create callback runs after that, via RunCreate.
func New(label string, sfxID int, class *classreg.Class) *Proc {
	return &Proc{
		label:  label,
		sfxID:  sfxID,
		Class:  class,
		varMap: make(map[varMapKey]*variable.Variable),
	}
}

func (p *Proc) Label() string { return p.label }
func (p *Proc) Sfx() int      { return p.sfxID }

// ScheduleNotify implements variable.Owner: append v to this proc's
// per-cycle notify list.
func (p *Proc) ScheduleNotify(v *variable.Variable) {
	p.notifyList = append(p.notifyList, v)
}

// AddVar appends v to the proc's singly-linked variable list and indexes it
// in varMap[value_id][channel].
func (p *Proc) AddVar(v *variable.Variable) error {
	v.Owner = p
	key := varMapKey{valueID: v.ValueID, ch: v.Ch}
	if _, exists := p.varMap[key]; exists {
		return ferr.Newf(ferr.InvalidState, "variable slot value_id=%d ch=%d already occupied on %s:%d", v.ValueID, v.Ch, p.label, p.sfxID)
	}
	p.varMap[key] = v
	if p.varHead == nil {
		p.varHead = v
	} else {
		p.varTail.VarLink = v
	}
	p.varTail = v
	return nil
}

// AddChannelVar indexes an already-linked channel child (created via
// variable.Channelize, which itself appended to the parent's ChLink) into
// the proc's flat varMap, without re-adding it to the VarLink chain.
func (p *Proc) AddChannelVar(v *variable.Variable) error {
	key := varMapKey{valueID: v.ValueID, ch: v.Ch}
	if _, exists := p.varMap[key]; exists {
		return ferr.Newf(ferr.InvalidState, "variable slot value_id=%d ch=%d already occupied on %s:%d", v.ValueID, v.Ch, p.label, p.sfxID)
	}
	p.varMap[key] = v
	return nil
}

// VarByID resolves varMap[value_id][channel] in O(1), per §3.4.
func (p *Proc) VarByID(valueID, ch int) (*variable.Variable, bool) {
	v, ok := p.varMap[varMapKey{valueID: valueID, ch: ch}]
	return v, ok
}

// VarByLabel resolves a variable by label/sfx/channel, scanning the proc's
// variable list (used during network build before callers have a value_id).
func (p *Proc) VarByLabel(label string, sfxID, ch int) *variable.Variable {
	return variable.Find(p.varHead, label, sfxID, ch)
}

// Vars returns every top-level (non-channel-child) variable on the proc, in
// creation order.
func (p *Proc) Vars() []*variable.Variable {
	var out []*variable.Variable
	for v := p.varHead; v != nil; v = v.VarLink {
		out = append(out, v)
	}
	return out
}

// AllVars returns every variable including channel children.
func (p *Proc) AllVars() []*variable.Variable {
	var out []*variable.Variable
	for v := p.varHead; v != nil; v = v.VarLink {
		out = append(out, v)
		out = append(out, v.ChLink...)
	}
	return out
}

// MarkLogInit flags v to be logged once, at proc init.
func (p *Proc) MarkLogInit(v *variable.Variable) { p.logInit = append(p.logInit, v) }

// MarkLogExec flags v to be logged every cycle.
func (p *Proc) MarkLogExec(v *variable.Variable) { p.logExec = append(p.logExec, v) }

// LogInitVars returns the vars flagged for init-time logging.
func (p *Proc) LogInitVars() []*variable.Variable { return p.logInit }

// LogExecVars returns the vars flagged for per-cycle logging.
func (p *Proc) LogExecVars() []*variable.Variable { return p.logExec }

// MarkManualNotify registers v on the manual-notify list (§4.2): buffer
// producers that cannot auto-notify are notified explicitly every cycle.
func (p *Proc) MarkManualNotify(v *variable.Variable) {
	p.manualNotifyVars = append(p.manualNotifyVars, v)
}

// ManualNotifyVars returns the proc's manual-notify list.
func (p *Proc) ManualNotifyVars() []*variable.Variable { return p.manualNotifyVars }

// RunCreate invokes the class's create callback.
func (p *Proc) RunCreate() error {
	if p.Class.Hooks.Create == nil {
		return nil
	}
	if err := p.Class.Hooks.Create(p); err != nil {
		return ferr.Wrap(ferr.OpFailed, ferr.ProcContext(p.label, p.sfxID), "create", err)
	}
	return nil
}

// NotifyPending invokes the class's notify callback once per variable
// currently on the notify list, then clears it (§4.6 "every changed
// variable... notify callback fires once").
func (p *Proc) NotifyPending() error {
	pending := p.notifyList
	p.notifyList = nil
	for _, v := range pending {
		if p.Class.Hooks.Notify == nil {
			continue
		}
		if err := p.Class.Hooks.Notify(p, v.ValueID, v.Ch); err != nil {
			return ferr.Wrap(ferr.OpFailed, ferr.Context(p.label, p.sfxID, v.Label, v.SfxID, v.Ch), "notify", err)
		}
	}
	return nil
}

// NotifyAll forces a notify for every variable, used for the pre-runtime
// notification pass (§4.3 step 14), so a proc sees its initial state.
func (p *Proc) NotifyAll() error {
	if p.Class.Hooks.Notify == nil {
		return nil
	}
	for _, v := range p.AllVars() {
		if err := p.Class.Hooks.Notify(p, v.ValueID, v.Ch); err != nil {
			return ferr.Wrap(ferr.OpFailed, ferr.Context(p.label, p.sfxID, v.Label, v.SfxID, v.Ch), "initial notify", err)
		}
	}
	return nil
}

// RunManualNotify fires notify for every manually-tracked variable, once per
// cycle, for buffer producers that cannot auto-notify.
func (p *Proc) RunManualNotify() error {
	if p.Class.Hooks.Notify == nil {
		return nil
	}
	for _, v := range p.manualNotifyVars {
		if err := p.Class.Hooks.Notify(p, v.ValueID, v.Ch); err != nil {
			return ferr.Wrap(ferr.OpFailed, ferr.Context(p.label, p.sfxID, v.Label, v.SfxID, v.Ch), "manual notify", err)
		}
	}
	return nil
}

// EOFSentinel is returned by a class's exec hook to signal graceful,
// end-of-stream halt (§4.6, §7: "kEofRC halts gracefully").
var EOFSentinel = ferr.New(ferr.EOF, "end of stream")

// RunExec invokes the class's exec callback for this cycle.
func (p *Proc) RunExec() error {
	err := p.Class.Hooks.Exec(p)
	if err != nil {
		if ferr.Is(err, ferr.EOF) {
			p.halted = true
			return err
		}
		return ferr.Wrap(ferr.OpFailed, ferr.ProcContext(p.label, p.sfxID), "exec", err)
	}
	return nil
}

// Halted reports whether this proc's exec requested an end-of-stream halt.
func (p *Proc) Halted() bool { return p.halted }

// RunDestroy invokes the class's destroy callback.
func (p *Proc) RunDestroy() error {
	if p.Class.Hooks.Destroy == nil {
		return nil
	}
	if err := p.Class.Hooks.Destroy(p); err != nil {
		return ferr.Wrap(ferr.OpFailed, ferr.ProcContext(p.label, p.sfxID), "destroy", err)
	}
	return nil
}

// Report invokes the class's report callback, if any, for diagnostics.
func (p *Proc) Report() string {
	if p.Class.Hooks.Report == nil {
		return ""
	}
	return p.Class.Hooks.Report(p)
}
