// Package session implements the client side of the binary session protocol:
// an explicit connect/search/present/close lifecycle over one connection,
// with at most one protocol exchange in flight at a time.
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pithecene-io/fedsearch/iox"
	"github.com/pithecene-io/fedsearch/types"
	"github.com/pithecene-io/fedsearch/wire"
)

// Defaults for init negotiation.
const (
	DefaultPreferredMessageSize = 1024 * 1024
	DefaultMaximumRecordSize    = 1024 * 1024
	closeWriteTimeout           = time.Second
)

// DialFunc opens the transport connection.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Options configures a Session.
type Options struct {
	User     string
	Password string
	Group    string
	// RejectOverlap makes an overlapping operation fail with ErrBusy
	// instead of waiting for the in-flight one.
	RejectOverlap        bool
	PreferredMessageSize int
	MaximumRecordSize    int
	// Dial defaults to a net.Dialer.
	Dial DialFunc
}

// Session is one connection to one backend. It is not multiplexed: search and
// present exchanges are serialized, never interleaved. A Session is used for
// a single connect/close cycle.
type Session struct {
	addr string
	opts Options

	// sem holds the single in-flight slot.
	sem   chan struct{}
	state atomic.Int32

	// life is cancelled by Close and aborts any blocked dial or exchange.
	life   context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	conn  net.Conn
	codec *wire.Codec

	closeOnce sync.Once
	closeErr  error

	serverImpl string
}

// New creates a disconnected session for addr (host:port).
func New(addr string, opts Options) *Session {
	if opts.Dial == nil {
		var d net.Dialer
		opts.Dial = d.DialContext
	}
	if opts.PreferredMessageSize == 0 {
		opts.PreferredMessageSize = DefaultPreferredMessageSize
	}
	if opts.MaximumRecordSize == 0 {
		opts.MaximumRecordSize = DefaultMaximumRecordSize
	}
	life, cancel := context.WithCancel(context.Background())
	return &Session{
		addr:   addr,
		opts:   opts,
		sem:    make(chan struct{}, 1),
		life:   life,
		cancel: cancel,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// ServerImplementation returns the implementation name the server sent on init.
func (s *Session) ServerImplementation() string {
	return s.serverImpl
}

// acquire takes the in-flight slot and moves the session from Connected
// (or Disconnected, for connect) into the operation's state.
func (s *Session) acquire(ctx context.Context, op string, from, to State) error {
	if s.opts.RejectOverlap {
		select {
		case s.sem <- struct{}{}:
		default:
			return ErrBusy
		}
	} else {
		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		case <-s.life.Done():
			return &StateError{Op: op, State: Closed}
		}
	}
	if !s.state.CompareAndSwap(int32(from), int32(to)) {
		<-s.sem
		return &StateError{Op: op, State: s.State()}
	}
	return nil
}

// release returns the slot, moving the session to next unless Close won the race.
func (s *Session) release(cur, next State) {
	s.state.CompareAndSwap(int32(cur), int32(next))
	<-s.sem
}

// Connect dials the backend and negotiates the session.
// A refused init closes the session and returns a *RejectedError.
func (s *Session) Connect(ctx context.Context) error {
	if err := s.acquire(ctx, "connect", Disconnected, Connecting); err != nil {
		return err
	}
	next := Closed
	defer func() { s.release(Connecting, next) }()

	ctx, stop := s.bind(ctx)
	defer stop()

	conn, err := s.opts.Dial(ctx, "tcp", s.addr)
	if err != nil {
		iox.DiscardClose(s)
		return err
	}
	s.mu.Lock()
	if s.State() == Closed {
		s.mu.Unlock()
		iox.DiscardClose(conn)
		return &StateError{Op: "connect", State: Closed}
	}
	s.conn, s.codec = conn, wire.NewCodec(conn)
	s.mu.Unlock()

	pdu, err := s.exchange(ctx, &wire.InitRequest{
		ProtocolVersion:       wire.ProtocolVersion,
		Options:               []string{"search", "present"},
		PreferredMessageSize:  s.opts.PreferredMessageSize,
		MaximumRecordSize:     s.opts.MaximumRecordSize,
		ImplementationName:    types.ImplementationName,
		ImplementationVersion: types.Version,
		User:                  s.opts.User,
		Password:              s.opts.Password,
		Group:                 s.opts.Group,
	}, wire.TypeInitResponse)
	if err != nil {
		iox.DiscardClose(s)
		return err
	}
	resp := pdu.(*wire.InitResponse)
	if !resp.Result {
		rejected := &RejectedError{}
		if resp.Diagnostic != nil {
			rejected.Condition, rejected.AddInfo = resp.Diagnostic.Condition, resp.Diagnostic.AddInfo
		}
		iox.DiscardClose(s)
		return rejected
	}
	s.serverImpl = resp.ImplementationName
	next = Connected
	return nil
}

// Search runs a search request. The session is in Searching for the duration.
func (s *Session) Search(ctx context.Context, req *wire.SearchRequest) (*wire.SearchResponse, error) {
	if err := s.acquire(ctx, "search", Connected, Searching); err != nil {
		return nil, err
	}
	defer s.release(Searching, Connected)

	ctx, stop := s.bind(ctx)
	defer stop()
	pdu, err := s.exchange(ctx, req, wire.TypeSearchResponse)
	if err != nil {
		return nil, err
	}
	return pdu.(*wire.SearchResponse), nil
}

// Present retrieves records from a result set. The session is in Presenting
// for the duration.
func (s *Session) Present(ctx context.Context, req *wire.PresentRequest) (*wire.PresentResponse, error) {
	if err := s.acquire(ctx, "present", Connected, Presenting); err != nil {
		return nil, err
	}
	defer s.release(Presenting, Connected)

	ctx, stop := s.bind(ctx)
	defer stop()
	pdu, err := s.exchange(ctx, req, wire.TypePresentResponse)
	if err != nil {
		return nil, err
	}
	return pdu.(*wire.PresentResponse), nil
}

// bind derives a context cancelled by either ctx or Close.
func (s *Session) bind(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.life, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// exchange sends one PDU and reads the reply. Cancelling ctx expires the
// connection deadline so a blocked read or write returns promptly; the
// connection is then unusable and the session closes.
func (s *Session) exchange(ctx context.Context, req wire.PDU, want string) (wire.PDU, error) {
	s.mu.Lock()
	conn, codec := s.conn, s.codec
	s.mu.Unlock()
	if conn == nil {
		return nil, &StateError{Op: req.PDUType(), State: s.State()}
	}

	// A deadline left by an earlier, tighter exchange must not carry over.
	dl, _ := ctx.Deadline()
	_ = conn.SetDeadline(dl)
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	resp, err := s.roundTrip(codec, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		} else if !dl.IsZero() && errors.Is(err, os.ErrDeadlineExceeded) && !time.Now().Before(dl) {
			// The connection deadline can fire just ahead of the context timer.
			err = context.DeadlineExceeded
		}
		iox.DiscardClose(s)
		return nil, err
	}
	if c, ok := resp.(*wire.Close); ok {
		iox.DiscardClose(s)
		return nil, &ClosedByPeerError{Reason: c.Reason, Message: c.Message}
	}
	if resp.PDUType() != want {
		iox.DiscardClose(s)
		return nil, &UnexpectedPDUError{Want: want, Got: resp.PDUType()}
	}
	return resp, nil
}

func (s *Session) roundTrip(codec *wire.Codec, req wire.PDU) (wire.PDU, error) {
	if err := codec.Send(req); err != nil {
		return nil, fmt.Errorf("send %s: %w", req.PDUType(), err)
	}
	resp, err := codec.Receive()
	if err != nil {
		return nil, fmt.Errorf("receive reply to %s: %w", req.PDUType(), err)
	}
	return resp, nil
}

// Close ends the session. It is idempotent and safe to call concurrently
// with any operation, which it aborts. When no operation is in flight and the
// session is connected, a close PDU is sent first.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		// Take the slot if free so the close PDU cannot interleave
		// with another exchange.
		idle := false
		select {
		case s.sem <- struct{}{}:
			idle = true
		default:
		}

		prev := State(s.state.Swap(int32(Closed)))
		s.cancel()

		s.mu.Lock()
		conn, codec := s.conn, s.codec
		s.mu.Unlock()

		if conn != nil {
			if idle && prev == Connected {
				_ = conn.SetDeadline(time.Now().Add(closeWriteTimeout))
				_ = codec.Send(&wire.Close{Reason: wire.CloseFinished})
			}
			s.closeErr = conn.Close()
		}
		if idle {
			<-s.sem
		}
	})
	return s.closeErr
}
