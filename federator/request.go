package federator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/fedsearch/types"
)

// MaxRequestSize bounds a decoded federation request body (1 MiB).
const MaxRequestSize = 1 << 20

// wireTarget mirrors types.TargetSpec with optional paging so an explicit
// size of 0 can be told apart from an omitted one.
type wireTarget struct {
	Type           string `json:"type"`
	Name           string `json:"name"`
	Query          string `json:"query"`
	From           *int   `json:"from"`
	Size           *int   `json:"size"`
	ResultSetName  string `json:"resultSetName"`
	ElementSetName string `json:"elementSetName"`
	RecordSyntax   string `json:"recordSyntax"`
	TimeoutMs      int64  `json:"timeoutMs"`
}

type wireRequest struct {
	RequestID string       `json:"requestId"`
	Targets   []wireTarget `json:"targets"`
}

// DecodeRequest reads a federation request. The body is either an object
// {"requestId": ..., "targets": [...]} or a bare array of targets. Omitted
// from/size default to 1/10, and an omitted request id is generated.
func DecodeRequest(r io.Reader) (types.FederationRequest, error) {
	body, err := io.ReadAll(io.LimitReader(r, MaxRequestSize+1))
	if err != nil {
		return types.FederationRequest{}, fmt.Errorf("read request: %w", err)
	}
	if len(body) > MaxRequestSize {
		return types.FederationRequest{}, fmt.Errorf("request exceeds %d bytes", MaxRequestSize)
	}

	var wr wireRequest
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &wr.Targets)
	} else {
		err = json.Unmarshal(trimmed, &wr)
	}
	if err != nil {
		return types.FederationRequest{}, fmt.Errorf("decode request: %w", err)
	}

	req := types.FederationRequest{RequestID: wr.RequestID}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	for i, wt := range wr.Targets {
		kind, err := types.ParseTargetKind(wt.Type)
		if err != nil {
			return types.FederationRequest{}, fmt.Errorf("target %d (%q): %w", i, wt.Name, err)
		}
		spec := types.TargetSpec{
			Name:           wt.Name,
			Kind:           kind,
			Query:          wt.Query,
			ResultSetName:  wt.ResultSetName,
			ElementSetName: wt.ElementSetName,
			RecordSyntax:   wt.RecordSyntax,
			From:           types.DefaultFrom,
			Size:           types.DefaultSize,
		}
		if wt.From != nil {
			spec.From = *wt.From
		}
		if wt.Size != nil {
			spec.Size = *wt.Size
		}
		if wt.TimeoutMs > 0 {
			spec.Timeout = time.Duration(wt.TimeoutMs) * time.Millisecond
		}
		if err := spec.Validate(); err != nil {
			return types.FederationRequest{}, err
		}
		req.Targets = append(req.Targets, spec)
	}
	if len(req.Targets) == 0 {
		return types.FederationRequest{}, ErrNoTargets
	}
	return req, nil
}
