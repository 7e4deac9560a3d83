package wire

import (
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// PDU type discriminants.
const (
	TypeInitRequest     = "init_request"
	TypeInitResponse    = "init_response"
	TypeSearchRequest   = "search_request"
	TypeSearchResponse  = "search_response"
	TypePresentRequest  = "present_request"
	TypePresentResponse = "present_response"
	TypeClose           = "close"
)

// ProtocolVersion is the highest protocol version this codec speaks.
const ProtocolVersion = 3

// Bib1DiagnosticSet identifies the bib-1 diagnostic set.
const Bib1DiagnosticSet = "1.2.840.10003.4.1"

// PDU is one protocol message.
type PDU interface {
	PDUType() string
}

// DefaultDiagFormat is a diagnostic record as carried on the wire.
type DefaultDiagFormat struct {
	DiagnosticSetID string `msgpack:"diag_set"`
	Condition       int    `msgpack:"condition"`
	AddInfo         string `msgpack:"addinfo,omitempty"`
}

// InitRequest opens a session.
type InitRequest struct {
	ReferenceID           string   `msgpack:"ref,omitempty"`
	ProtocolVersion       int      `msgpack:"version"`
	Options               []string `msgpack:"options"`
	PreferredMessageSize  int      `msgpack:"preferred_message_size"`
	MaximumRecordSize     int      `msgpack:"maximum_record_size"`
	ImplementationName    string   `msgpack:"impl_name,omitempty"`
	ImplementationVersion string   `msgpack:"impl_version,omitempty"`
	User                  string   `msgpack:"user,omitempty"`
	Password              string   `msgpack:"password,omitempty"`
	Group                 string   `msgpack:"group,omitempty"`
}

// InitResponse accepts or refuses a session.
type InitResponse struct {
	ReferenceID        string             `msgpack:"ref,omitempty"`
	Result             bool               `msgpack:"result"`
	ProtocolVersion    int                `msgpack:"version"`
	Options            []string           `msgpack:"options"`
	ImplementationName string             `msgpack:"impl_name,omitempty"`
	Diagnostic         *DefaultDiagFormat `msgpack:"diagnostic,omitempty"`
}

// SearchRequest runs a query into a named result set.
type SearchRequest struct {
	ReferenceID            string   `msgpack:"ref,omitempty"`
	ResultSetName          string   `msgpack:"result_set"`
	ReplaceIndicator       bool     `msgpack:"replace"`
	DatabaseNames          []string `msgpack:"databases"`
	Query                  string   `msgpack:"query"`
	SmallSetUpperBound     int      `msgpack:"small_set_upper_bound"`
	LargeSetLowerBound     int      `msgpack:"large_set_lower_bound"`
	MediumSetPresentNumber int      `msgpack:"medium_set_present_number"`
	ElementSetName         string   `msgpack:"element_set"`
	PreferredRecordSyntax  string   `msgpack:"record_syntax,omitempty"`
}

// SearchResponse reports the hit count and, for small sets, piggybacked records.
type SearchResponse struct {
	ReferenceID             string             `msgpack:"ref,omitempty"`
	ResultCount             int                `msgpack:"result_count"`
	NumberOfRecordsReturned int                `msgpack:"returned"`
	NextResultSetPosition   int                `msgpack:"next_position"`
	SearchStatus            bool               `msgpack:"status"`
	Records                 []NamePlusRecord   `msgpack:"records,omitempty"`
	Diagnostic              *DefaultDiagFormat `msgpack:"diagnostic,omitempty"`
}

// Present status values.
const (
	PresentSuccess  = 0
	PresentPartial1 = 1
	PresentPartial2 = 2
	PresentPartial3 = 3
	PresentPartial4 = 4
	PresentFailure  = 5
)

// PresentRequest retrieves a range of a named result set.
type PresentRequest struct {
	ReferenceID              string `msgpack:"ref,omitempty"`
	ResultSetName            string `msgpack:"result_set"`
	ResultSetStartPoint      int    `msgpack:"start"`
	NumberOfRecordsRequested int    `msgpack:"count"`
	ElementSetName           string `msgpack:"element_set"`
	PreferredRecordSyntax    string `msgpack:"record_syntax,omitempty"`
}

// PresentResponse carries retrieved records.
type PresentResponse struct {
	ReferenceID             string             `msgpack:"ref,omitempty"`
	NumberOfRecordsReturned int                `msgpack:"returned"`
	NextResultSetPosition   int                `msgpack:"next_position"`
	PresentStatus           int                `msgpack:"status"`
	Records                 []NamePlusRecord   `msgpack:"records,omitempty"`
	Diagnostic              *DefaultDiagFormat `msgpack:"diagnostic,omitempty"`
}

// NamePlusRecord is one retrieved record or, when Diagnostic is set, a
// surrogate diagnostic standing in for it.
type NamePlusRecord struct {
	DatabaseName string             `msgpack:"db,omitempty"`
	Syntax       string             `msgpack:"syntax,omitempty"`
	Data         []byte             `msgpack:"data,omitempty"`
	Diagnostic   *DefaultDiagFormat `msgpack:"diagnostic,omitempty"`
}

// Close ends a session. Either side may send it.
type Close struct {
	ReferenceID string `msgpack:"ref,omitempty"`
	Reason      int    `msgpack:"reason"`
	Message     string `msgpack:"message,omitempty"`
}

// Close reasons.
const (
	CloseFinished       = 0
	CloseShutdown       = 1
	CloseSystemProblem  = 2
	CloseCostLimit      = 3
	CloseResources      = 4
	CloseSecurity       = 5
	CloseProtocolError  = 6
	CloseLackOfActivity = 7
)

func (*InitRequest) PDUType() string     { return TypeInitRequest }
func (*InitResponse) PDUType() string    { return TypeInitResponse }
func (*SearchRequest) PDUType() string   { return TypeSearchRequest }
func (*SearchResponse) PDUType() string  { return TypeSearchResponse }
func (*PresentRequest) PDUType() string  { return TypePresentRequest }
func (*PresentResponse) PDUType() string { return TypePresentResponse }
func (*Close) PDUType() string           { return TypeClose }

type envelope struct {
	Type string             `msgpack:"type"`
	Body msgpack.RawMessage `msgpack:"body"`
}

// Marshal encodes pdu into a frame payload.
func Marshal(pdu PDU) ([]byte, error) {
	body, err := msgpack.Marshal(pdu)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", pdu.PDUType(), err)
	}
	return msgpack.Marshal(&envelope{Type: pdu.PDUType(), Body: body})
}

// Unmarshal decodes a frame payload, discriminating on the envelope type.
func Unmarshal(payload []byte) (PDU, error) {
	var env envelope
	if err := msgpack.Unmarshal(payload, &env); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "failed to decode envelope",
			Err:  err,
		}
	}

	var pdu PDU
	switch env.Type {
	case TypeInitRequest:
		pdu = &InitRequest{}
	case TypeInitResponse:
		pdu = &InitResponse{}
	case TypeSearchRequest:
		pdu = &SearchRequest{}
	case TypeSearchResponse:
		pdu = &SearchResponse{}
	case TypePresentRequest:
		pdu = &PresentRequest{}
	case TypePresentResponse:
		pdu = &PresentResponse{}
	case TypeClose:
		pdu = &Close{}
	default:
		return nil, &FrameError{
			Kind: FrameErrorUnknownType,
			Msg:  fmt.Sprintf("unknown PDU type %q", env.Type),
		}
	}
	if err := msgpack.Unmarshal(env.Body, pdu); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "failed to decode " + env.Type,
			Err:  err,
		}
	}
	return pdu, nil
}

// Codec reads and writes PDUs over one stream.
type Codec struct {
	dec *FrameDecoder
	enc *FrameEncoder
}

// NewCodec creates a codec over rw.
func NewCodec(rw io.ReadWriter) *Codec {
	return &Codec{dec: NewFrameDecoder(rw), enc: NewFrameEncoder(rw)}
}

// Send encodes and writes one PDU.
func (c *Codec) Send(pdu PDU) error {
	payload, err := Marshal(pdu)
	if err != nil {
		return err
	}
	return c.enc.WriteFrame(payload)
}

// Receive reads and decodes one PDU.
func (c *Codec) Receive() (PDU, error) {
	payload, err := c.dec.ReadFrame()
	if err != nil {
		return nil, err
	}
	return Unmarshal(payload)
}
