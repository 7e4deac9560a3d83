package sru

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pithecene-io/fedsearch/backend"
	"github.com/pithecene-io/fedsearch/types"
)

const okResponse = `<?xml version="1.0"?>
<srw:searchRetrieveResponse xmlns:srw="http://www.loc.gov/zing/srw/">
  <srw:version>1.2</srw:version>
  <srw:numberOfRecords>5</srw:numberOfRecords>
  <srw:records>
    <srw:record>
      <srw:recordSchema>info:srw/schema/1/dc-v1.1</srw:recordSchema>
      <srw:recordPacking>xml</srw:recordPacking>
      <srw:recordData><dc><title>One</title></dc></srw:recordData>
      <srw:recordPosition>1</srw:recordPosition>
    </srw:record>
    <srw:record>
      <srw:recordSchema>info:srw/schema/1/diagnostics-v1.1</srw:recordSchema>
      <srw:recordPacking>xml</srw:recordPacking>
      <srw:recordData><diagnostic xmlns="http://www.loc.gov/zing/srw/diagnostic/"><uri>info:srw/diagnostic/1/64</uri><details>rec2</details><message>Record temporarily unavailable</message></diagnostic></srw:recordData>
      <srw:recordPosition>2</srw:recordPosition>
    </srw:record>
    <srw:record>
      <srw:recordSchema>info:srw/schema/1/dc-v1.1</srw:recordSchema>
      <srw:recordPacking>string</srw:recordPacking>
      <srw:recordData>&lt;dc&gt;&lt;title&gt;Three&lt;/title&gt;&lt;/dc&gt;</srw:recordData>
    </srw:record>
  </srw:records>
</srw:searchRetrieveResponse>`

const diagResponse = `<?xml version="1.0"?>
<searchRetrieveResponse xmlns="http://www.loc.gov/zing/srw/">
  <version>1.2</version>
  <numberOfRecords>0</numberOfRecords>
  <diagnostics>
    <diagnostic xmlns="http://www.loc.gov/zing/srw/diagnostic/">
      <uri>info:srw/diagnostic/1/16</uri>
      <details>shelfmark</details>
      <message>Unsupported index</message>
    </diagnostic>
  </diagnostics>
</searchRetrieveResponse>`

func newTestAdapter(t *testing.T, url string, retries int) *Adapter {
	t.Helper()
	a, err := New("test", Config{BaseURL: url, Retries: retries, Backoff: time.Millisecond}, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Disconnect() })
	if err := a.Connect(t.Context()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return a
}

func request(query string, from, size int) backend.SearchRequest {
	return backend.SearchRequest{Query: query, From: from, Size: size}
}

func TestAdapter_Search(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.Header().Set("Content-Type", "text/xml")
		fmt.Fprint(w, okResponse)
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL+"/sru?x-info=1", 0)
	res, diag := a.Search(t.Context(), request(`title = "test"`, 1, 10))
	if diag != nil {
		t.Fatalf("diag = %v", diag)
	}

	q := got.URL.Query()
	for key, want := range map[string]string{
		"operation":      "searchRetrieve",
		"version":        "1.2",
		"query":          `title = "test"`,
		"startRecord":    "1",
		"maximumRecords": "10",
		"recordPacking":  "xml",
		"x-info":         "1",
	} {
		if q.Get(key) != want {
			t.Errorf("param %s = %q, want %q", key, q.Get(key), want)
		}
	}

	if res.Count != 5 {
		t.Errorf("Count = %d, want 5", res.Count)
	}
	if len(res.Records) != 3 {
		t.Fatalf("records = %d, want 3", len(res.Records))
	}
	if string(res.Records[0].Data) != "<dc><title>One</title></dc>" || res.Records[0].Schema != "info:srw/schema/1/dc-v1.1" {
		t.Errorf("record 0 = %+v", res.Records[0])
	}
	if d := res.Records[1].Diagnostic; !d.IsSurrogate() || d.Code != 64 || d.Details != "rec2" {
		t.Errorf("record 1 diagnostic = %+v", d)
	}
	if string(res.Records[2].Data) != "<dc><title>Three</title></dc>" || res.Records[2].Position != 3 {
		t.Errorf("record 2 = %+v", res.Records[2])
	}
	if res.RecordSyntax != "info:srw/schema/1/dc-v1.1" {
		t.Errorf("RecordSyntax = %q", res.RecordSyntax)
	}
}

func TestAdapter_SizeTrimsRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, okResponse)
	}))
	defer srv.Close()

	res, diag := newTestAdapter(t, srv.URL, 0).Search(t.Context(), request("x", 1, 1))
	if diag != nil {
		t.Fatalf("diag = %v", diag)
	}
	if len(res.Records) != 1 || res.Count != 5 {
		t.Errorf("records = %d, count = %d", len(res.Records), res.Count)
	}
}

func TestAdapter_RecordSchemaParam(t *testing.T) {
	var schema string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		schema = r.URL.Query().Get("recordSchema")
		fmt.Fprint(w, okResponse)
	}))
	defer srv.Close()

	req := request("x", 1, 1)
	req.RecordSyntax = "marcxml"
	if _, diag := newTestAdapter(t, srv.URL, 0).Search(t.Context(), req); diag != nil {
		t.Fatalf("diag = %v", diag)
	}
	if schema != "marcxml" {
		t.Errorf("recordSchema = %q", schema)
	}
}

func TestAdapter_EnvelopeDiagnostic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, diagResponse)
	}))
	defer srv.Close()

	res, diag := newTestAdapter(t, srv.URL, 0).Search(t.Context(), request("shelfmark = x", 1, 10))
	if res != nil || diag == nil {
		t.Fatalf("res = %+v, diag = %v", res, diag)
	}
	if diag.IsSurrogate() || diag.Code != 16 || diag.Details != "shelfmark" || diag.Message != "Unsupported index" {
		t.Errorf("diag = %+v", diag)
	}
}

func TestAdapter_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, okResponse)
	}))
	defer srv.Close()

	_, diag := newTestAdapter(t, srv.URL, 2).Search(t.Context(), request("x", 1, 10))
	if diag != nil {
		t.Fatalf("diag = %v", diag)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestAdapter_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, diag := newTestAdapter(t, srv.URL, 3).Search(t.Context(), request("x", 1, 10))
	if diag == nil || diag.IsSurrogate() || diag.Kind != types.DiagConnection {
		t.Fatalf("diag = %+v", diag)
	}
	if !strings.Contains(diag.Details, "404") {
		t.Errorf("details = %q", diag.Details)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestAdapter_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "<html><body>oops")
	}))
	defer srv.Close()

	_, diag := newTestAdapter(t, srv.URL, 2).Search(t.Context(), request("x", 1, 10))
	if diag == nil || diag.Kind != types.DiagProtocol || diag.IsSurrogate() {
		t.Fatalf("diag = %+v", diag)
	}
}

func TestAdapter_DeadlineAndDisconnect(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	t.Run("deadline", func(t *testing.T) {
		a := newTestAdapter(t, srv.URL, 0)
		ctx, cancel := context.WithTimeout(t.Context(), 30*time.Millisecond)
		defer cancel()
		_, diag := a.Search(ctx, request("x", 1, 10))
		if diag == nil || diag.Kind != types.DiagTimeout || diag.Code != types.CodeTimeout {
			t.Fatalf("diag = %+v, want timeout", diag)
		}
	})

	t.Run("disconnect", func(t *testing.T) {
		a := newTestAdapter(t, srv.URL, 0)
		done := make(chan *types.Diagnostic, 1)
		go func() {
			_, diag := a.Search(context.Background(), request("x", 1, 10))
			done <- diag
		}()
		time.Sleep(20 * time.Millisecond)
		if err := a.Disconnect(); err != nil {
			t.Fatalf("Disconnect: %v", err)
		}
		select {
		case diag := <-done:
			if diag == nil {
				t.Fatal("search succeeded after disconnect")
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Disconnect did not abort the request")
		}
		if err := a.Connect(t.Context()); err == nil {
			t.Error("Connect after Disconnect should fail")
		}
	})
}

func TestConfigFor(t *testing.T) {
	cfg := ConfigFor(backend.Endpoint{
		Address: "https://sru.example.org/db",
		Options: map[string]string{
			"version": "1.1", "record_schema": "marcxml", "retries": "0",
			"header.Authorization": "Basic eDp5",
		},
	})
	if cfg.Version != "1.1" || cfg.RecordSchema != "marcxml" || cfg.Retries != 0 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Headers["Authorization"] != "Basic eDp5" || len(cfg.Headers) != 1 {
		t.Errorf("headers = %v", cfg.Headers)
	}
	if ConfigFor(backend.Endpoint{Address: "https://x"}).Retries != DefaultRetries {
		t.Error("retries should default")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New("x", Config{}, nil, nil); err == nil {
		t.Error("empty URL should fail")
	}
	if _, err := New("x", Config{BaseURL: "http://x", Retries: -1}, nil, nil); err == nil {
		t.Error("negative retries should fail")
	}
	a, err := New("x", Config{BaseURL: "ftp://x"}, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Connect(t.Context()); err == nil {
		t.Error("non-http URL should fail Connect")
	}
}
