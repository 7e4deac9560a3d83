package federator

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pithecene-io/fedsearch/types"
)

func TestAggregate(t *testing.T) {
	results := []types.TargetResult{
		{Name: "A", RecordCount: 5, Records: []types.RawRecord{{Position: 1}, {Position: 2}}, Elapsed: 40 * time.Millisecond},
		{Name: "B", RecordCount: 99, Records: []types.RawRecord{{Position: 1}},
			Diagnostic: types.NonSurrogate(types.DiagConnection, 2, "down")},
		{Name: "C", RecordCount: 7, Records: []types.RawRecord{
			{Position: 3},
			{Position: 4, Diagnostic: types.Surrogate(64, "record unavailable")},
		}},
		{Name: "D"},
	}

	res := Aggregate("req", results)
	if res.TotalCount != 12 {
		t.Errorf("TotalCount = %d, want 12", res.TotalCount)
	}
	if len(res.PerTarget) != 4 {
		t.Fatalf("PerTarget = %d entries", len(res.PerTarget))
	}
	if res.PerTarget[0].ElapsedMs != 40 {
		t.Errorf("ElapsedMs = %d", res.PerTarget[0].ElapsedMs)
	}

	wantIDs := map[string][]string{
		"A": {"1_A", "2_A"},
		"B": {},
		"C": {"3_C", "4_C"},
		"D": {},
	}
	for _, r := range res.PerTarget {
		if r.Records == nil {
			t.Errorf("%s: Records is nil, want empty slice", r.Name)
		}
		var ids []string
		for _, rec := range r.Records {
			ids = append(ids, rec.ID)
		}
		if strings.Join(ids, ",") != strings.Join(wantIDs[r.Name], ",") {
			t.Errorf("%s: ids = %v, want %v", r.Name, ids, wantIDs[r.Name])
		}
	}
	if res.PerTarget[2].Records[1].GlobalPosition != 4 {
		t.Errorf("surrogate GlobalPosition = %d", res.PerTarget[2].Records[1].GlobalPosition)
	}
	if results[0].Records[0].ID != "" {
		t.Error("Aggregate modified its input")
	}
}

func TestDecodeRequest(t *testing.T) {
	req, err := DecodeRequest(strings.NewReader(`{
		"requestId": "abc",
		"targets": [
			{"type": "http", "name": "A", "query": "title = x", "from": 3, "size": 0},
			{"type": "SESSION", "name": "B", "query": "dogs", "recordSyntax": "usmarc", "timeoutMs": 1500}
		]
	}`))
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if req.RequestID != "abc" || len(req.Targets) != 2 {
		t.Fatalf("req = %+v", req)
	}
	a, b := req.Targets[0], req.Targets[1]
	if a.Kind != types.KindHTTP || a.From != 3 || a.Size != 0 {
		t.Errorf("A = %+v", a)
	}
	if b.Kind != types.KindSession || b.From != 1 || b.Size != types.DefaultSize || b.RecordSyntax != "usmarc" {
		t.Errorf("B = %+v", b)
	}
	if b.Timeout != 1500*time.Millisecond {
		t.Errorf("B timeout = %v", b.Timeout)
	}
}

func TestDecodeRequest_BareArray(t *testing.T) {
	req, err := DecodeRequest(strings.NewReader(`  [{"type":"http","name":"A","query":"x"}]`))
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if req.RequestID == "" {
		t.Error("request id not generated")
	}
	if len(req.Targets) != 1 || req.Targets[0].Name != "A" {
		t.Errorf("targets = %+v", req.Targets)
	}
}

func TestDecodeRequest_Errors(t *testing.T) {
	cases := map[string]string{
		"bad type":     `[{"type":"gopher","name":"A","query":"x"}]`,
		"from zero":    `[{"type":"http","name":"A","query":"x","from":0}]`,
		"negative":     `[{"type":"http","name":"A","query":"x","size":-1}]`,
		"missing name": `[{"type":"http","query":"x"}]`,
		"malformed":    `{"targets":`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := DecodeRequest(strings.NewReader(body)); err == nil {
				t.Error("expected error")
			}
		})
	}

	for _, body := range []string{`[]`, `{"targets":[]}`, `{}`} {
		if _, err := DecodeRequest(strings.NewReader(body)); !errors.Is(err, ErrNoTargets) {
			t.Errorf("DecodeRequest(%s) err = %v, want ErrNoTargets", body, err)
		}
	}

	big := `[{"type":"http","name":"A","query":"` + strings.Repeat("x", MaxRequestSize) + `"}]`
	if _, err := DecodeRequest(strings.NewReader(big)); err == nil {
		t.Error("expected size error")
	}
}
