package device

import (
	"strconv"
	"sync"

	"github.com/hypebeast/go-osc/osc"

	"github.com/audiograph/flow/internal/ferr"
	"github.com/audiograph/flow/internal/logging"
)

// Socket is a bidirectional OSC device (§4.8's "socket" device type),
// grounded on the teacher's single-purpose osc.Client usage: an outbound
// message per logical event, addressed by a fixed OSC path.
type Socket struct {
	label   string
	client  *osc.Client
	server  *osc.Server
	address string

	mu      sync.Mutex
	inbox   []*osc.Message
	dir     Direction
}

// NewSocketOut opens an OSC client pointed at host:port, sending every
// message to a fixed address (mirroring the teacher's one-address-per-
// message-kind convention).
func NewSocketOut(label, host string, port int, address string) *Socket {
	return &Socket{label: label, client: osc.NewClient(host, port), address: address, dir: DirOut}
}

// NewSocketIn starts an OSC server listening on port, buffering incoming
// messages for the engine thread to drain via Pending (Poll does nothing for
// a socket).
func NewSocketIn(label string, port int) *Socket {
	s := &Socket{label: label, dir: DirIn}
	d := osc.NewStandardDispatcher()
	_ = d.AddMsgHandler("*", func(msg *osc.Message) {
		s.mu.Lock()
		s.inbox = append(s.inbox, msg)
		s.mu.Unlock()
	})
	s.server = &osc.Server{Addr: ":" + strconv.Itoa(port), Dispatcher: d}
	go func() {
		if err := s.server.ListenAndServe(); err != nil {
			logging.Warnf("socket device %s: server stopped: %v", label, err)
		}
	}()
	return s
}

func (s *Socket) Label() string       { return s.label }
func (s *Socket) Kind() Kind          { return KindSocket }
func (s *Socket) Direction() Direction { return s.dir }

// Pending returns (and clears) every OSC message received since the last
// Pending call, for socket_in-style procs to consume.
func (s *Socket) Pending() []*osc.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.inbox
	s.inbox = nil
	return out
}

func (s *Socket) Poll() error { return nil }

// SendFloat32s sends one OSC message carrying the given float32 arguments to
// the device's configured address, per §4.8.
func (s *Socket) SendFloat32s(args ...float32) error {
	if s.client == nil {
		return ferr.Newf(ferr.InvalidState, "socket device %q has no outbound client", s.label)
	}
	msg := osc.NewMessage(s.address)
	for _, a := range args {
		msg.Append(a)
	}
	return s.client.Send(msg)
}

func (s *Socket) Flush() error { return nil }

func (s *Socket) Close() error { return nil }
