package protocol

import (
	"fmt"

	"github.com/gocql/gocql"
)

// Response is the semantic representation of a frame a Connection hands
// back to the dispatcher. The dispatcher's response classification (§4.6)
// is a type switch over these variants.
type Response interface {
	isResponse()
}

// SetKeyspaceResultResponse is returned for a successful "USE <keyspace>"
// and updates both the connection's and the session's keyspace.
type SetKeyspaceResultResponse struct {
	Keyspace string
}

func (SetKeyspaceResultResponse) isResponse() {}

// PreparedResultResponse is returned for a successful PREPARE.
type PreparedResultResponse struct {
	ID       []byte
	Metadata *ResultMetadata
}

func (PreparedResultResponse) isResponse() {}

// RawRowsResultResponse is a rows result the caller must materialize against
// result metadata it already has (skip_metadata was set on the request).
type RawRowsResultResponse struct {
	Rows        [][][]byte
	PagingState []byte
	TraceID     *gocql.UUID
}

func (RawRowsResultResponse) isResponse() {}

// RowsResultResponse is a rows result that carries its own metadata.
type RowsResultResponse struct {
	Metadata    *ResultMetadata
	Rows        [][][]byte
	PagingState []byte
	TraceID     *gocql.UUID
}

func (RowsResultResponse) isResponse() {}

// VoidResultResponse is a successful result carrying no data (e.g. DDL, or a
// retry policy Ignore decision).
type VoidResultResponse struct{}

func (VoidResultResponse) isResponse() {}

// SupportedResponse answers an OPTIONS request.
type SupportedResponse struct {
	Options map[string][]string
}

func (SupportedResponse) isResponse() {}

// ErrorResponse is a plain server error with no structured detail payload.
type ErrorResponse struct {
	Code    ErrorCode
	Message string
}

func (ErrorResponse) isResponse() {}

func (e ErrorResponse) Error() string {
	return fmt.Sprintf("server error %#04x: %s", uint32(e.Code), e.Message)
}

// UnavailableDetails is the structured payload of an UNAVAILABLE error.
type UnavailableDetails struct {
	Consistency Consistency
	Required    int32
	Alive       int32
}

// WriteTimeoutDetails is the structured payload of a WRITE_TIMEOUT error.
type WriteTimeoutDetails struct {
	Consistency Consistency
	WriteType   WriteType
	BlockFor    int32
	Received    int32
}

// ReadTimeoutDetails is the structured payload of a READ_TIMEOUT error.
type ReadTimeoutDetails struct {
	Consistency Consistency
	BlockFor    int32
	Received    int32
	DataPresent bool
}

// DetailedErrorResponse is a server error carrying one of the structured
// detail payloads the retry policy needs to make a decision. Exactly one of
// Unavailable, WriteTimeout, ReadTimeout is non-nil.
type DetailedErrorResponse struct {
	ErrorResponse
	Unavailable  *UnavailableDetails
	WriteTimeout *WriteTimeoutDetails
	ReadTimeout  *ReadTimeoutDetails
}

func (DetailedErrorResponse) isResponse() {}
