// Package telemetry pushes live population state to websocket viewers.
// Clients never send commands; anything they write is ignored.
package telemetry

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"walkersim.dev/internal/sim/population"
	"walkersim.dev/internal/telemetryproto"
)

const (
	defaultQueue       = 32
	defaultMinInterval = 100 * time.Millisecond
	writeTimeout       = 5 * time.Second
	readTimeout        = 60 * time.Second
)

// Source is the simulation view the server reads. *population.Simulation
// implements it.
type Source interface {
	WorldInfo() telemetryproto.WorldInfoMsg
	StateMsg() telemetryproto.StateMsg
	PlayerZonesMsg() telemetryproto.PlayerZonesMsg
	InactiveAgentsMsg() telemetryproto.InactiveAgentsMsg
	ActiveAgentsMsg() telemetryproto.ActiveAgentsMsg
	State() *population.State
}

type Options struct {
	Log *zap.Logger
	// Encoding is used when a client does not pick one with ?encoding=.
	Encoding Encoding
	// Queue is the per-client frame buffer. Older frames are dropped when
	// it is full.
	Queue int
	// MinInterval rate-limits Broadcast.
	MinInterval time.Duration
	// AllowRemote accepts non-loopback clients.
	AllowRemote bool
	Now         func() time.Time
}

type frame struct {
	msgType int
	data    []byte
}

type client struct {
	id  string
	enc Encoding
	out chan frame

	dropped atomic.Uint64
}

// push enqueues f, evicting the oldest queued frames until it fits.
func (c *client) push(f frame) {
	for {
		select {
		case c.out <- f:
			return
		default:
		}
		select {
		case <-c.out:
			c.dropped.Add(1)
		default:
		}
	}
}

type Server struct {
	src  Source
	log  *zap.Logger
	opts Options

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*client

	lastBroadcast time.Time
	broadcasts    atomic.Uint64
	dropped       atomic.Uint64
}

func NewServer(src Source, opts Options) *Server {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Queue <= 0 {
		opts.Queue = defaultQueue
	}
	if opts.MinInterval < 0 {
		opts.MinInterval = 0
	} else if opts.MinInterval == 0 {
		opts.MinInterval = defaultMinInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Server{
		src:  src,
		log:  opts.Log.Named("telemetry"),
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // viewers are local tools
		},
		clients: map[string]*client{},
	}
}

func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

type Stats struct {
	Clients    int
	Broadcasts uint64
	Dropped    uint64
}

func (s *Server) Stats() Stats {
	st := Stats{Broadcasts: s.broadcasts.Load(), Dropped: s.dropped.Load()}
	s.mu.Lock()
	st.Clients = len(s.clients)
	for _, c := range s.clients {
		st.Dropped += c.dropped.Load()
	}
	s.mu.Unlock()
	return st
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !s.allowed(r) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		resp := telemetryproto.BootstrapResponse{
			ProtocolVersion: telemetryproto.Version,
			World:           s.src.WorldInfo(),
			State:           s.src.StateMsg(),
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.allowed(r) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		enc := s.opts.Encoding
		if q := r.URL.Query().Get("encoding"); q != "" {
			e, err := ParseEncoding(q)
			if err != nil {
				http.Error(rw, err.Error(), http.StatusBadRequest)
				return
			}
			enc = e
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		c := &client{id: uuid.NewString(), enc: enc, out: make(chan frame, s.opts.Queue)}
		// static description and current state go out before the first
		// broadcast can reach this client
		for _, msg := range []any{s.src.WorldInfo(), s.src.StateMsg()} {
			b, err := enc.Marshal(msg)
			if err != nil {
				s.log.Error("encode failed", zap.Error(err))
				return
			}
			c.push(frame{msgType: enc.messageType(), data: b})
		}
		s.add(c)
		defer s.remove(c)

		done := make(chan struct{})
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-done:
					writeErr <- nil
					return
				case f := <-c.out:
					_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
					if err := conn.WriteMessage(f.msgType, f.data); err != nil {
						writeErr <- err
						_ = conn.Close()
						return
					}
				}
			}
		}()

		// Reader loop: only here to notice disconnects and answer pings.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		close(done)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (s *Server) add(c *client) {
	s.mu.Lock()
	s.clients[c.id] = c
	n := len(s.clients)
	s.mu.Unlock()
	s.log.Info("client connected", zap.String("session", c.id), zap.Stringer("encoding", c.enc), zap.Int("clients", n))
}

func (s *Server) remove(c *client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	n := len(s.clients)
	s.mu.Unlock()
	s.dropped.Add(c.dropped.Load())
	s.log.Info("client disconnected", zap.String("session", c.id), zap.Uint64("dropped", c.dropped.Load()), zap.Int("clients", n))
}

// Broadcast pushes the live collections to every client, plus State when
// it changed since the last broadcast. It does nothing without clients
// and at most once per MinInterval. Call it from one goroutine.
func (s *Server) Broadcast() {
	now := s.opts.Now()
	if !s.lastBroadcast.IsZero() && now.Sub(s.lastBroadcast) < s.opts.MinInterval {
		return
	}

	s.mu.Lock()
	targets := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		targets = append(targets, c)
	}
	s.mu.Unlock()
	if len(targets) == 0 {
		return
	}
	s.lastBroadcast = now

	var msgs []any
	select {
	case <-s.src.State().Changed():
		msgs = append(msgs, s.src.StateMsg())
	default:
	}
	msgs = append(msgs, s.src.PlayerZonesMsg(), s.src.InactiveAgentsMsg(), s.src.ActiveAgentsMsg())

	encoded := map[Encoding][]frame{}
	for _, c := range targets {
		frames, ok := encoded[c.enc]
		if !ok {
			frames = make([]frame, 0, len(msgs))
			for _, m := range msgs {
				b, err := c.enc.Marshal(m)
				if err != nil {
					s.log.Error("encode failed", zap.Stringer("encoding", c.enc), zap.Error(err))
					continue
				}
				frames = append(frames, frame{msgType: c.enc.messageType(), data: b})
			}
			encoded[c.enc] = frames
		}
		for _, f := range frames {
			c.push(f)
		}
	}
	s.broadcasts.Add(1)
}

func (s *Server) allowed(r *http.Request) bool {
	return s.opts.AllowRemote || isLoopbackRemote(r.RemoteAddr)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
