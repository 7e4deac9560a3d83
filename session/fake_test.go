package session

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pithecene-io/fedsearch/wire"
)

// fakeServer speaks the session protocol over net.Pipe.
type fakeServer struct {
	rejectInit bool
	count      int
	syntax     string
	// searchDiag, when set, fails every search.
	searchDiag    *wire.DefaultDiagFormat
	presentStatus int
	presentDiag   *wire.DefaultDiagFormat
	// surrogateAt marks a 1-based result set position as unavailable.
	surrogateAt int
	// piggyback returns up to this many records on the search response.
	piggyback int

	// gate, when set, holds every search reply until a value is received.
	gate    chan struct{}
	started chan string

	stop chan struct{}

	mu       sync.Mutex
	received []string
	presents []wire.PresentRequest
}

func newFakeServer(t *testing.T) *fakeServer {
	f := &fakeServer{
		count:   25,
		syntax:  wire.OIDUSMarc,
		started: make(chan string, 16),
		stop:    make(chan struct{}),
	}
	t.Cleanup(func() { close(f.stop) })
	return f
}

func (f *fakeServer) dial(_ context.Context, _, _ string) (net.Conn, error) {
	client, server := net.Pipe()
	go f.serve(server)
	return client, nil
}

func (f *fakeServer) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.received...)
}

func (f *fakeServer) serve(conn net.Conn) {
	defer conn.Close()
	codec := wire.NewCodec(conn)
	for {
		pdu, err := codec.Receive()
		if err != nil {
			return
		}
		f.mu.Lock()
		f.received = append(f.received, pdu.PDUType())
		f.mu.Unlock()
		select {
		case f.started <- pdu.PDUType():
		default:
		}

		var reply wire.PDU
		switch req := pdu.(type) {
		case *wire.InitRequest:
			if f.rejectInit {
				reply = &wire.InitResponse{Result: false, Diagnostic: &wire.DefaultDiagFormat{
					DiagnosticSetID: wire.Bib1DiagnosticSet, Condition: 1010, AddInfo: "bad password",
				}}
			} else {
				reply = &wire.InitResponse{Result: true, ProtocolVersion: wire.ProtocolVersion, ImplementationName: "fake"}
			}
		case *wire.SearchRequest:
			if f.gate != nil {
				select {
				case <-f.gate:
				case <-f.stop:
					return
				}
			}
			resp := &wire.SearchResponse{ResultCount: f.count, SearchStatus: f.searchDiag == nil, Diagnostic: f.searchDiag}
			if f.piggyback > 0 {
				resp.Records = f.records(1, min(f.piggyback, f.count))
				resp.NumberOfRecordsReturned = len(resp.Records)
			}
			reply = resp
		case *wire.PresentRequest:
			f.mu.Lock()
			f.presents = append(f.presents, *req)
			f.mu.Unlock()
			recs := f.records(req.ResultSetStartPoint, req.NumberOfRecordsRequested)
			reply = &wire.PresentResponse{
				NumberOfRecordsReturned: len(recs),
				NextResultSetPosition:   req.ResultSetStartPoint + len(recs),
				PresentStatus:           f.presentStatus,
				Records:                 recs,
				Diagnostic:              f.presentDiag,
			}
		case *wire.Close:
			return
		}
		if err := codec.Send(reply); err != nil {
			return
		}
	}
}

func (f *fakeServer) records(start, n int) []wire.NamePlusRecord {
	out := make([]wire.NamePlusRecord, 0, n)
	for pos := start; pos < start+n && pos <= f.count; pos++ {
		if pos == f.surrogateAt {
			out = append(out, wire.NamePlusRecord{Diagnostic: &wire.DefaultDiagFormat{
				DiagnosticSetID: wire.Bib1DiagnosticSet, Condition: 64, AddInfo: "locked",
			}})
			continue
		}
		out = append(out, wire.NamePlusRecord{Syntax: f.syntax, Data: []byte{byte(pos)}})
	}
	return out
}

func (f *fakeServer) waitFor(t *testing.T, pduType string) {
	t.Helper()
	for {
		select {
		case got := <-f.started:
			if got == pduType {
				return
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("server never received %s", pduType)
		}
	}
}
