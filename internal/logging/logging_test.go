package logging

import (
	"bytes"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
)

func TestSetLevelAppliesValidLevel(t *testing.T) {
	orig := L.GetLevel()
	defer L.SetLevel(orig)

	SetLevel("warn")
	assert.Equal(t, log.WarnLevel, L.GetLevel())
}

func TestSetLevelIgnoresUnknownLevel(t *testing.T) {
	orig := L.GetLevel()
	SetLevel("info")
	defer L.SetLevel(orig)

	SetLevel("not-a-level")
	assert.Equal(t, log.InfoLevel, L.GetLevel())
}

func TestLevelHelpersRespectMinimumLevel(t *testing.T) {
	var buf bytes.Buffer
	orig := L
	defer func() { L = orig }()

	L = log.NewWithOptions(&buf, log.Options{})
	L.SetLevel(log.WarnLevel)

	Debugf("debug %s", "msg")
	Infof("info %s", "msg")
	assert.Empty(t, buf.String())

	Warnf("warn %s", "msg")
	assert.Contains(t, buf.String(), "warn msg")

	Errorf("error %s", "msg")
	assert.Contains(t, buf.String(), "error msg")
}
