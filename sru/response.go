package sru

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pithecene-io/fedsearch/backend"
	"github.com/pithecene-io/fedsearch/types"
)

// Schemas identifying a record that is a surrogate diagnostic.
var diagnosticSchemas = map[string]bool{
	"info:srw/schema/1/diagnostics-v1.1":      true,
	"http://www.loc.gov/zing/srw/diagnostic/": true,
}

const diagnosticURIPrefix = "info:srw/diagnostic/1/"

// Element names are matched by local name, so both the 1.1/1.2 and the
// 2.0 response namespaces decode.
type searchRetrieveResponse struct {
	XMLName         xml.Name     `xml:"searchRetrieveResponse"`
	Version         string       `xml:"version"`
	NumberOfRecords string       `xml:"numberOfRecords"`
	Records         []record     `xml:"records>record"`
	Diagnostics     []diagnostic `xml:"diagnostics>diagnostic"`
}

type record struct {
	Schema   string     `xml:"recordSchema"`
	Packing  string     `xml:"recordPacking"`
	Data     recordData `xml:"recordData"`
	Position string     `xml:"recordPosition"`
}

type recordData struct {
	Inner []byte `xml:",innerxml"`
	Text  string `xml:",chardata"`
}

// payload returns the record bytes. String-packed records arrive escaped.
func (r record) payload() []byte {
	if strings.EqualFold(strings.TrimSpace(r.Packing), "string") {
		return []byte(strings.TrimSpace(r.Data.Text))
	}
	return bytes.TrimSpace(r.Data.Inner)
}

type diagnostic struct {
	URI     string `xml:"uri"`
	Details string `xml:"details"`
	Message string `xml:"message"`
}

// code extracts N from info:srw/diagnostic/1/N.
func (d diagnostic) code() int {
	if n, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(d.URI), diagnosticURIPrefix)); err == nil {
		return n
	}
	return types.CodeGeneralSystemError
}

func (d diagnostic) message() string {
	if m := strings.TrimSpace(d.Message); m != "" {
		return m
	}
	return strings.TrimSpace(d.URI)
}

// ParseResponse decodes a searchRetrieve response. from numbers records that
// carry no recordPosition. An envelope-level diagnostic is returned as a
// non-surrogate diagnostic; records that are diagnostics become surrogates.
func ParseResponse(r io.Reader, from int) (*backend.SearchResult, *types.Diagnostic, error) {
	var resp searchRetrieveResponse
	if err := xml.NewDecoder(r).Decode(&resp); err != nil {
		return nil, nil, fmt.Errorf("decode searchRetrieveResponse: %w", err)
	}

	if len(resp.Diagnostics) > 0 {
		d := resp.Diagnostics[0]
		return nil, types.NonSurrogate(types.DiagProtocol, d.code(), d.message()).
			WithDetails(strings.TrimSpace(d.Details)), nil
	}

	result := &backend.SearchResult{}
	if s := strings.TrimSpace(resp.NumberOfRecords); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, nil, fmt.Errorf("numberOfRecords %q: %w", s, err)
		}
		result.Count = n
	}

	result.Records = make([]types.RawRecord, 0, len(resp.Records))
	for i, rec := range resp.Records {
		raw := types.RawRecord{Position: from + i}
		if p, err := strconv.Atoi(strings.TrimSpace(rec.Position)); err == nil {
			raw.Position = p
		}
		schema := strings.TrimSpace(rec.Schema)
		data := rec.payload()
		if diagnosticSchemas[schema] {
			raw.Diagnostic = surrogate(data)
		} else {
			raw.Schema = schema
			raw.Data = data
			if result.RecordSyntax == "" {
				result.RecordSyntax = schema
			}
		}
		result.Records = append(result.Records, raw)
	}
	return result, nil, nil
}

func surrogate(data []byte) *types.Diagnostic {
	var d diagnostic
	if err := xml.Unmarshal(data, &d); err != nil {
		return types.Surrogate(types.CodeRecordUnavailable, "record unavailable")
	}
	return types.Surrogate(d.code(), d.message()).WithDetails(strings.TrimSpace(d.Details))
}
