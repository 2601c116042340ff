package netbuild

import (
	"strconv"
	"strings"

	"github.com/audiograph/flow/internal/ferr"
)

// ele is one parsed dotted-path element of an in/out-statement key or value
// (spec.md §6.2): a label plus an optional literal suffix/count or an
// inferred-iteration marker.
//
//	"name"      -> {Label: "name"}
//	"name_5"    -> {Label: "name", Base: 5, HasBase: true}
//	"name_5_3"  -> {Label: "name", Base: 5, HasBase: true, Count: 3, HasCount: true}
//	"name_"     -> {Label: "name", Iterating: true}
type ele struct {
	Label     string
	Base      int
	HasBase   bool
	Count     int
	HasCount  bool
	Iterating bool
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// parseEle tokenizes a single dotted-path element per §6.2.
func parseEle(s string) (ele, error) {
	if s == "" {
		return ele{}, ferr.New(ferr.Syntax, "empty path element")
	}
	if strings.HasSuffix(s, "_") {
		label := s[:len(s)-1]
		if label == "" {
			return ele{}, ferr.Newf(ferr.Syntax, "path element %q has no label", s)
		}
		return ele{Label: label, Iterating: true}, nil
	}

	parts := strings.Split(s, "_")
	if len(parts) >= 3 && isAllDigits(parts[len(parts)-1]) && isAllDigits(parts[len(parts)-2]) {
		base, _ := strconv.Atoi(parts[len(parts)-2])
		count, _ := strconv.Atoi(parts[len(parts)-1])
		label := strings.Join(parts[:len(parts)-2], "_")
		if label == "" {
			return ele{}, ferr.Newf(ferr.Syntax, "path element %q has no label", s)
		}
		if count == 0 {
			return ele{}, ferr.Newf(ferr.Syntax, "iteration count 0 in %q", s)
		}
		return ele{Label: label, Base: base, HasBase: true, Count: count, HasCount: true}, nil
	}
	if len(parts) >= 2 && isAllDigits(parts[len(parts)-1]) {
		base, _ := strconv.Atoi(parts[len(parts)-1])
		label := strings.Join(parts[:len(parts)-1], "_")
		if label == "" {
			return ele{}, ferr.Newf(ferr.Syntax, "path element %q has no label", s)
		}
		return ele{Label: label, Base: base, HasBase: true}, nil
	}
	return ele{Label: s}, nil
}

// stmtSide is a parsed "proc.var" (local) or "[net.]proc.var" (remote) side
// of an in/out-statement.
type stmtSide struct {
	Net  string // "_" for the top-level/enclosing net when unspecified
	Proc ele
	Var  ele
}

func parseLocalSide(s string) (stmtSide, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 2 {
		return stmtSide{}, ferr.Newf(ferr.Syntax, "local statement side %q must be proc.var", s)
	}
	proc, err := parseEle(parts[0])
	if err != nil {
		return stmtSide{}, err
	}
	v, err := parseEle(parts[1])
	if err != nil {
		return stmtSide{}, err
	}
	return stmtSide{Net: "_", Proc: proc, Var: v}, nil
}

func parseRemoteSide(s string) (stmtSide, error) {
	parts := strings.Split(s, ".")
	switch len(parts) {
	case 2:
		proc, err := parseEle(parts[0])
		if err != nil {
			return stmtSide{}, err
		}
		v, err := parseEle(parts[1])
		if err != nil {
			return stmtSide{}, err
		}
		return stmtSide{Net: "_", Proc: proc, Var: v}, nil
	case 3:
		proc, err := parseEle(parts[1])
		if err != nil {
			return stmtSide{}, err
		}
		v, err := parseEle(parts[2])
		if err != nil {
			return stmtSide{}, err
		}
		return stmtSide{Net: parts[0], Proc: proc, Var: v}, nil
	default:
		return stmtSide{}, ferr.Newf(ferr.Syntax, "remote statement side %q must be [net.]proc.var", s)
	}
}

// resolveSfx computes the suffix id for element e at iteration index idx: the
// iterating element (the one supplying the statement's replication count)
// advances base+idx across iterations; any other element holds its own
// literal base (or defaultSfx) fixed across every iteration.
func resolveSfx(e ele, idx, defaultSfx int) int {
	base := defaultSfx
	if e.HasBase {
		base = e.Base
	}
	if e.Iterating || e.HasCount {
		return base + idx
	}
	return base
}
