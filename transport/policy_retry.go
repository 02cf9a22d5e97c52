package transport

import "github.com/scylladb/scylla-go-driver/protocol"

// SimpleRetryPolicy retries idempotent statements a bounded number of times
// at the same consistency level, and never retries non-idempotent ones on
// write-side errors where a retry could duplicate the write (§4.6, §8).
type SimpleRetryPolicy struct {
	// MaxRetries bounds how many times one statement is retried before the
	// dispatcher reraises the error to the caller.
	MaxRetries int
}

// NewSimpleRetryPolicy returns a policy that retries up to maxRetries times.
func NewSimpleRetryPolicy(maxRetries int) *SimpleRetryPolicy {
	return &SimpleRetryPolicy{MaxRetries: maxRetries}
}

func (p *SimpleRetryPolicy) Unavailable(stmt protocol.Statement, cl protocol.Consistency, required, alive int32, retries int) Decision {
	if retries >= p.MaxRetries {
		return Reraise
	}
	// Retry at the same consistency rather than downgrading silently; the
	// dispatcher resends on the same host and connection.
	return Retry(cl)
}

func (p *SimpleRetryPolicy) WriteTimeout(stmt protocol.Statement, cl protocol.Consistency, writeType protocol.WriteType, blockFor, received int32, retries int) Decision {
	if retries >= p.MaxRetries || !stmt.Idempotent {
		return Reraise
	}
	if writeType == protocol.WriteTypeBatchLog {
		return Retry(cl)
	}
	return Reraise
}

func (p *SimpleRetryPolicy) ReadTimeout(stmt protocol.Statement, cl protocol.Consistency, blockFor, received int32, dataPresent bool, retries int) Decision {
	if retries >= p.MaxRetries {
		return Reraise
	}
	if received >= blockFor && !dataPresent {
		// Enough replicas answered but the data-bearing one didn't land in
		// time; the retry has a real shot at a different coordinator path.
		return Retry(cl)
	}
	return Reraise
}

// DowngradingRetryPolicy trades strict consistency for availability. Like
// SimpleRetryPolicy it reraises once MaxRetries is reached and never retries
// a write timeout of a non-idempotent statement. Unlike it, every retry
// (Unavailable, WriteTimeout of any write type, ReadTimeout whether or not
// data was present) is made at a level downgraded to the replica count the
// coordinator reports (alive or received), and a count of zero reraises.
type DowngradingRetryPolicy struct {
	MaxRetries int
}

func NewDowngradingRetryPolicy(maxRetries int) *DowngradingRetryPolicy {
	return &DowngradingRetryPolicy{MaxRetries: maxRetries}
}

func (p *DowngradingRetryPolicy) Unavailable(stmt protocol.Statement, cl protocol.Consistency, required, alive int32, retries int) Decision {
	if retries >= p.MaxRetries || alive <= 0 {
		return Reraise
	}
	return Retry(downgrade(cl, alive))
}

func (p *DowngradingRetryPolicy) WriteTimeout(stmt protocol.Statement, cl protocol.Consistency, writeType protocol.WriteType, blockFor, received int32, retries int) Decision {
	if retries >= p.MaxRetries || !stmt.Idempotent || received <= 0 {
		return Reraise
	}
	return Retry(downgrade(cl, received))
}

func (p *DowngradingRetryPolicy) ReadTimeout(stmt protocol.Statement, cl protocol.Consistency, blockFor, received int32, dataPresent bool, retries int) Decision {
	if retries >= p.MaxRetries || received <= 0 {
		return Reraise
	}
	return Retry(downgrade(cl, received))
}

// downgrade maps an achievable replica count onto the strongest of Three, Two
// and One that the count can satisfy (Three only when cl is All, Quorum or
// EachQuorum), falling back to One when nothing better fits.
func downgrade(cl protocol.Consistency, achievable int32) protocol.Consistency {
	switch {
	case achievable >= 3 && (cl == protocol.All || cl == protocol.Quorum || cl == protocol.EachQuorum):
		return protocol.Three
	case achievable >= 2:
		return protocol.Two
	default:
		return protocol.One
	}
}
