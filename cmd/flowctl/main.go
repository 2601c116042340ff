// Command flowctl loads a program cfg file and drives the dataflow engine
// (spec.md §6.1, §6.6): build the class registry and network, optionally
// apply an initial preset, then run exec_cycle until halt, cycle limit, or
// duration limit.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/audiograph/flow/internal/builtins"
	"github.com/audiograph/flow/internal/cfgtree"
	"github.com/audiograph/flow/internal/classreg"
	"github.com/audiograph/flow/internal/device"
	"github.com/audiograph/flow/internal/logging"
	"github.com/audiograph/flow/internal/netbuild"
	"github.com/audiograph/flow/internal/preset"
	"github.com/audiograph/flow/internal/runtime"
	"github.com/audiograph/flow/internal/snapshot"
)

type flags struct {
	cfgPath            string
	logLevel           string
	framesPerCycle     int
	sampleRate         float64
	nonRealTimeFl      bool
	maxCycleCount      uint
	durLimitSecs       float64
	uiUpdateMs         uint
	presetLabel        string
	printClassDictFl   bool
	printNetworkFl     bool
	profileFl          bool
	metricsAddr        string
	multiPriPresetProbFl bool
	multiSecPresetProbFl bool
	multiPresetInterpFl  bool
}

func main() {
	f := &flags{}
	root := &cobra.Command{
		Use:   "flowctl",
		Short: "Run a dataflow engine program cfg",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(f)
		},
	}
	fl := root.Flags()
	fl.StringVar(&f.cfgPath, "cfg", "", "path to the program cfg YAML file (required)")
	fl.StringVar(&f.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	fl.IntVar(&f.framesPerCycle, "frames-per-cycle", 0, "override cfg frames_per_cycle")
	fl.Float64Var(&f.sampleRate, "sample-rate", 0, "override cfg sample_rate")
	fl.BoolVar(&f.nonRealTimeFl, "non-real-time-fl", false, "override cfg non_real_time_fl")
	fl.UintVar(&f.maxCycleCount, "max-cycle-count", 0, "override cfg max_cycle_count (0 = cfg value or unbounded)")
	fl.Float64Var(&f.durLimitSecs, "dur-limit-secs", 0, "override cfg dur_limit_secs")
	fl.UintVar(&f.uiUpdateMs, "ui-update-ms", 0, "override cfg ui_update_ms")
	fl.StringVar(&f.presetLabel, "preset", "", "override cfg preset (initial preset label)")
	fl.BoolVar(&f.printClassDictFl, "print-class-dict-fl", false, "print the loaded class registry and exit")
	fl.BoolVar(&f.printNetworkFl, "print-network-fl", false, "print the built network's procs and exit")
	fl.BoolVar(&f.profileFl, "profile-fl", false, "enable per-cycle/per-proc prometheus histograms")
	fl.StringVar(&f.metricsAddr, "metrics-addr", ":9090", "address to serve /metrics on when --profile-fl is set")
	fl.BoolVar(&f.multiPriPresetProbFl, "multi-pri-preset-prob-fl", false, "rank-weighted primary selection flag; read but not used by flowctl, which applies --preset by label")
	fl.BoolVar(&f.multiSecPresetProbFl, "multi-sec-preset-prob-fl", false, "rank-weighted secondary selection flag; read but not used by flowctl, which applies --preset by label")
	fl.BoolVar(&f.multiPresetInterpFl, "multi-preset-interp-fl", false, "multi-preset interpolation flag; read but not used by flowctl, which applies --preset by label")
	_ = root.MarkFlagRequired("cfg")

	if err := root.Execute(); err != nil {
		logging.Errorf("flowctl: %v", err)
		os.Exit(1)
	}
}

func run(f *flags) error {
	logging.SetLevel(f.logLevel)

	raw, err := os.ReadFile(f.cfgPath)
	if err != nil {
		return fmt.Errorf("read cfg file: %w", err)
	}
	cfg, err := cfgtree.ParseYAML(raw)
	if err != nil {
		return fmt.Errorf("parse cfg file: %w", err)
	}

	framesPerCycle := 64
	_ = cfgtree.Readv(cfg, "frames_per_cycle", true, &framesPerCycle)
	if f.framesPerCycle > 0 {
		framesPerCycle = f.framesPerCycle
	}
	sampleRate := 48000.0
	_ = cfgtree.Readv(cfg, "sample_rate", true, &sampleRate)
	if f.sampleRate > 0 {
		sampleRate = f.sampleRate
	}
	nonRealTime := f.nonRealTimeFl
	_ = cfgtree.Readv(cfg, "non_real_time_fl", true, &nonRealTime)
	if f.nonRealTimeFl {
		nonRealTime = true
	}
	var maxCycleCount uint
	_ = cfgtree.Readv(cfg, "max_cycle_count", true, &maxCycleCount)
	if f.maxCycleCount > 0 {
		maxCycleCount = f.maxCycleCount
	}
	var durLimitSecs float64
	_ = cfgtree.Readv(cfg, "dur_limit_secs", true, &durLimitSecs)
	if f.durLimitSecs > 0 {
		durLimitSecs = f.durLimitSecs
	}
	uiUpdateMs := uint(50)
	_ = cfgtree.Readv(cfg, "ui_update_ms", true, &uiUpdateMs)
	if f.uiUpdateMs > 0 {
		uiUpdateMs = f.uiUpdateMs
	}
	presetLabel := f.presetLabel
	if presetLabel == "" {
		_ = cfgtree.Readv(cfg, "preset", true, &presetLabel)
	}
	printClassDictFl := f.printClassDictFl
	_ = cfgtree.Readv(cfg, "print_class_dict_fl", true, &printClassDictFl)
	printNetworkFl := f.printNetworkFl
	_ = cfgtree.Readv(cfg, "print_network_fl", true, &printNetworkFl)
	profileFl := f.profileFl
	_ = cfgtree.Readv(cfg, "profile_fl", true, &profileFl)
	multiPri := f.multiPriPresetProbFl
	_ = cfgtree.Readv(cfg, "multiPriPresetProbFl", true, &multiPri)
	multiSec := f.multiSecPresetProbFl
	_ = cfgtree.Readv(cfg, "multiSecPresetProbFl", true, &multiSec)
	multiInterp := f.multiPresetInterpFl
	_ = cfgtree.Readv(cfg, "multiPresetInterpFl", true, &multiInterp)
	_, _, _ = multiPri, multiSec, multiInterp // consumed by preset.Select callers, not by this entrypoint's single-preset path

	reg := classreg.NewRegistry()
	if classDict, ok := cfg.Get("class_dict"); ok {
		if err := classreg.LoadDict(reg, classDict, builtins.HooksFor); err != nil {
			return fmt.Errorf("load class_dict: %w", err)
		}
	}
	builtinReg := classreg.NewRegistry()
	if err := builtins.Register(builtinReg); err != nil {
		return fmt.Errorf("register builtin classes: %w", err)
	}
	for _, c := range builtinReg.All() {
		if _, overridden := reg.Lookup(c.Label); overridden {
			continue // a class_dict entry of the same name replaces the builtin
		}
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("register builtin classes: %w", err)
		}
	}
	if printClassDictFl {
		for _, c := range reg.All() {
			fmt.Printf("%s: %d vars, %d presets, poly_limit=%d, udp=%v\n", c.Label, len(c.Vars), len(c.Presets), c.PolyLimit, c.IsUDP)
		}
		return nil
	}

	networkNode, ok := cfg.Get("network")
	if !ok {
		return fmt.Errorf("cfg missing required network key")
	}
	nets, err := netbuild.Build(networkNode, reg, nil, 1)
	if err != nil {
		return fmt.Errorf("build network: %w", err)
	}
	net := nets[0]
	defer net.Destroy()

	if printNetworkFl {
		for _, p := range net.Procs {
			fmt.Printf("%s_%d: %s\n", p.Label(), p.Sfx(), p.Class.Label)
		}
		snap, err := snapshot.Dump(net)
		if err != nil {
			return fmt.Errorf("dump network snapshot: %w", err)
		}
		fmt.Println(string(snap))
		return nil
	}

	devReg, err := buildDevices(cfg, framesPerCycle, int(sampleRate))
	if err != nil {
		return fmt.Errorf("build devices: %w", err)
	}
	defer devReg.CloseAll()
	for _, p := range net.Procs {
		p.Ctx = devReg
	}

	if presetLabel != "" {
		if presetsCfg := net.PresetsCfg; presetsCfg != nil {
			coll, err := preset.Parse(presetsCfg)
			if err != nil {
				return fmt.Errorf("parse presets: %w", err)
			}
			if _, isDual := coll.Duals[presetLabel]; isDual {
				if err := coll.ApplyDual(net, presetLabel, -1); err != nil {
					return fmt.Errorf("apply dual preset %q: %w", presetLabel, err)
				}
			} else if err := coll.Apply(net, presetLabel, -1); err != nil {
				return fmt.Errorf("apply preset %q: %w", presetLabel, err)
			}
		}
	}

	var registerer prometheus.Registerer
	if profileFl {
		registerer = prometheus.DefaultRegisterer
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: f.metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Warnf("metrics server stopped: %v", err)
			}
		}()
		defer srv.Close()
	}

	engCfg := runtime.Config{
		FramesPerCycle: framesPerCycle,
		SampleRate:     sampleRate,
		NonRealTime:    nonRealTime,
		MaxCycleCount:  uint64(maxCycleCount),
		UIUpdateEvery:  int(float64(uiUpdateMs) / 1000 * sampleRate / float64(framesPerCycle)), // one UI drain roughly every ui_update_ms, at framesPerCycle/sampleRate seconds per cycle
		ProfileEnabled: profileFl,
	}
	if engCfg.UIUpdateEvery <= 0 {
		engCfg.UIUpdateEvery = 1
	}
	if durLimitSecs > 0 {
		engCfg.MaxDuration = time.Duration(durLimitSecs * float64(time.Second))
	}
	eng := runtime.NewEngine(net, engCfg, nil, registerer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var deadline time.Time
	if engCfg.MaxDuration > 0 {
		deadline = time.Now().Add(engCfg.MaxDuration)
	}
	for {
		if eng.Halted() {
			break
		}
		if engCfg.MaxCycleCount > 0 && eng.Cycle >= engCfg.MaxCycleCount {
			break
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if err := devReg.PollAll(); err != nil {
			logging.Errorf("device poll: %v", err)
		}
		cycleErr := eng.ExecCycle()
		if err := devReg.FlushAll(); err != nil {
			logging.Errorf("device flush: %v", err)
		}
		if cycleErr != nil {
			return fmt.Errorf("engine halted: %w", cycleErr)
		}
	}
	return nil
}

// buildDevices constructs the external device registry (§4.8) from the cfg's
// devices list: each entry is {label, kind, ...kind-specific fields}.
func buildDevices(cfg *cfgtree.Node, framesPerCycle, sampleRate int) (*device.Registry, error) {
	reg := device.NewRegistry()
	devicesNode, ok := cfg.Get("devices")
	if !ok {
		return reg, nil
	}
	entries, err := devicesNode.List()
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		var label, kind string
		if err := cfgtree.Readv(entry, "label", false, &label); err != nil {
			return nil, err
		}
		if err := cfgtree.Readv(entry, "kind", false, &kind); err != nil {
			return nil, err
		}
		d, err := buildOneDevice(entry, label, kind, framesPerCycle, sampleRate)
		if err != nil {
			return nil, fmt.Errorf("device %q: %w", label, err)
		}
		if d == nil {
			continue
		}
		if err := reg.Add(d); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func buildOneDevice(entry *cfgtree.Node, label, kind string, framesPerCycle, sampleRate int) (device.Device, error) {
	switch kind {
	case "audio_in":
		var path string
		_ = cfgtree.Readv(entry, "path", false, &path)
		return device.NewOfflineAudioIn(label, path, framesPerCycle)
	case "audio_out":
		var path string
		channelCount := 2
		_ = cfgtree.Readv(entry, "path", false, &path)
		_ = cfgtree.Readv(entry, "channel_count", true, &channelCount)
		return device.NewOfflineAudioOut(label, path, channelCount, sampleRate, framesPerCycle)
	case "midi_in":
		var port string
		maxMessages := 256
		_ = cfgtree.Readv(entry, "port", false, &port)
		_ = cfgtree.Readv(entry, "max_messages", true, &maxMessages)
		return device.NewMIDIIn(label, port, maxMessages)
	case "midi_out":
		var port string
		_ = cfgtree.Readv(entry, "port", false, &port)
		return device.NewMIDIOut(label, port)
	case "socket_in":
		port := 0
		var portUint uint
		_ = cfgtree.Readv(entry, "port", false, &portUint)
		port = int(portUint)
		return device.NewSocketIn(label, port), nil
	case "socket_out":
		var host, address string
		var portUint uint
		_ = cfgtree.Readv(entry, "host", false, &host)
		_ = cfgtree.Readv(entry, "port", false, &portUint)
		_ = cfgtree.Readv(entry, "address", false, &address)
		return device.NewSocketOut(label, host, int(portUint), address), nil
	default:
		return nil, fmt.Errorf("unknown device kind %q", kind)
	}
}
