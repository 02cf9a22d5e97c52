package protocol

import "fmt"

// QueryError is a server-side error the retry policy chose not to convert
// into a retry (or Reraise'd explicitly), or any error response the
// dispatcher doesn't otherwise recognize.
type QueryError struct {
	Code    ErrorCode
	Message string
	CQL     string
	Details interface{} // *UnavailableDetails, *WriteTimeoutDetails, *ReadTimeoutDetails, or nil
}

func (e *QueryError) Error() string {
	if e.CQL == "" {
		return fmt.Sprintf("cql error %#04x: %s", uint32(e.Code), e.Message)
	}
	return fmt.Sprintf("cql error %#04x: %s (query: %q)", uint32(e.Code), e.Message, e.CQL)
}

// NewQueryError builds a QueryError from a classified error response.
func NewQueryError(cql string, resp Response) *QueryError {
	switch r := resp.(type) {
	case DetailedErrorResponse:
		qe := &QueryError{Code: r.Code, Message: r.Message, CQL: cql}
		switch {
		case r.Unavailable != nil:
			qe.Details = r.Unavailable
		case r.WriteTimeout != nil:
			qe.Details = r.WriteTimeout
		case r.ReadTimeout != nil:
			qe.Details = r.ReadTimeout
		}
		return qe
	case ErrorResponse:
		return &QueryError{Code: r.Code, Message: r.Message, CQL: cql}
	default:
		return &QueryError{Code: ErrServerError, Message: fmt.Sprintf("unexpected response %T", resp), CQL: cql}
	}
}
