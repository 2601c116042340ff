package device

import (
	"testing"

	"github.com/hypebeast/go-osc/osc"
	"github.com/stretchr/testify/assert"
)

func TestSocketOutSendFloat32s(t *testing.T) {
	s := NewSocketOut("out", "127.0.0.1", 9999, "/flow/value")
	assert.Equal(t, KindSocket, s.Kind())
	assert.Equal(t, DirOut, s.Direction())
	assert.NoError(t, s.SendFloat32s(0.5, 1.0))
}

func TestSocketSendFloat32sRejectsDeviceWithoutClient(t *testing.T) {
	s := &Socket{label: "in", dir: DirIn}
	err := s.SendFloat32s(0.5)
	assert.Error(t, err)
}

func TestSocketPendingDrainsAndClearsInbox(t *testing.T) {
	s := &Socket{label: "in", dir: DirIn}
	s.inbox = append(s.inbox, osc.NewMessage("/a"), osc.NewMessage("/b"))

	msgs := s.Pending()
	assert.Len(t, msgs, 2)
	assert.Empty(t, s.Pending())
}
