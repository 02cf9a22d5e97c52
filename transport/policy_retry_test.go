package transport

import (
	"testing"

	"github.com/scylladb/scylla-go-driver/protocol"
)

func TestSimpleRetryPolicyUnavailableRetriesUntilBound(t *testing.T) {
	p := NewSimpleRetryPolicy(2)
	stmt := protocol.Statement{Idempotent: true}

	if d := p.Unavailable(stmt, protocol.Quorum, 2, 1, 0); d.Kind != DecisionRetry {
		t.Errorf("retries=0: Kind = %v, want DecisionRetry", d.Kind)
	}
	if d := p.Unavailable(stmt, protocol.Quorum, 2, 1, 2); d.Kind != DecisionReraise {
		t.Errorf("retries=2 (== max): Kind = %v, want DecisionReraise", d.Kind)
	}
}

func TestSimpleRetryPolicyWriteTimeoutRejectsNonIdempotent(t *testing.T) {
	p := NewSimpleRetryPolicy(5)
	stmt := protocol.Statement{Idempotent: false}

	d := p.WriteTimeout(stmt, protocol.Quorum, protocol.WriteTypeSimple, 2, 1, 0)
	if d.Kind != DecisionReraise {
		t.Errorf("non-idempotent write timeout: Kind = %v, want DecisionReraise", d.Kind)
	}
}

func TestSimpleRetryPolicyWriteTimeoutRetriesBatchLog(t *testing.T) {
	p := NewSimpleRetryPolicy(5)
	stmt := protocol.Statement{Idempotent: true}

	d := p.WriteTimeout(stmt, protocol.Quorum, protocol.WriteTypeBatchLog, 2, 1, 0)
	if d.Kind != DecisionRetry {
		t.Errorf("batchlog write timeout: Kind = %v, want DecisionRetry", d.Kind)
	}
}

func TestSimpleRetryPolicyReadTimeoutRetriesOnEnoughRepliesNoData(t *testing.T) {
	p := NewSimpleRetryPolicy(5)
	stmt := protocol.Statement{}

	d := p.ReadTimeout(stmt, protocol.Quorum, 2, 2, false, 0)
	if d.Kind != DecisionRetry {
		t.Errorf("blockFor==received, !dataPresent: Kind = %v, want DecisionRetry", d.Kind)
	}

	d = p.ReadTimeout(stmt, protocol.Quorum, 2, 1, false, 0)
	if d.Kind != DecisionReraise {
		t.Errorf("received < blockFor: Kind = %v, want DecisionReraise", d.Kind)
	}
}

func TestDowngradingRetryPolicyDowngradesConsistency(t *testing.T) {
	p := NewDowngradingRetryPolicy(3)
	stmt := protocol.Statement{Idempotent: true}

	d := p.Unavailable(stmt, protocol.All, 3, 1, 0)
	if d.Kind != DecisionRetry {
		t.Fatalf("Kind = %v, want DecisionRetry", d.Kind)
	}
	if d.Consistency != protocol.One {
		t.Errorf("Consistency = %v, want One (only 1 replica alive)", d.Consistency)
	}
}

func TestDowngradingRetryPolicyReraisesWhenNothingAlive(t *testing.T) {
	p := NewDowngradingRetryPolicy(3)
	stmt := protocol.Statement{Idempotent: true}

	d := p.Unavailable(stmt, protocol.All, 3, 0, 0)
	if d.Kind != DecisionReraise {
		t.Errorf("Kind = %v, want DecisionReraise when alive == 0", d.Kind)
	}
}
