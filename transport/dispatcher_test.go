package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/scylladb/scylla-go-driver/protocol"
)

func newTestCluster(t *testing.T, connector Connector, hosts ...Host) (*Cluster, *StaticRegistry) {
	t.Helper()
	registry := NewStaticRegistry(hosts...)
	cluster := NewCluster(Config{
		Registry:      registry,
		Connector:     connector,
		LoadBalancing: NewRoundRobinPolicy(),
		Retry:         NewSimpleRetryPolicy(2),
	})
	if err := cluster.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { cluster.Close() })
	return cluster, registry
}

func TestClusterQueryInsertAndSelectRoundTrip(t *testing.T) {
	host := Host{Addr: "h1"}
	cluster, _ := newTestCluster(t, NewLoopbackConnector(), host)
	cluster.UseKeyspace("benchks")
	ctx := context.Background()

	_, err := cluster.Query(ctx, protocol.Statement{
		Content:    "INSERT INTO benchks.t (pk, v1, v2) VALUES (?, ?, ?)",
		Values:     [][]byte{encodeInt64(1), encodeInt64(2), encodeInt64(3)},
		Idempotent: true,
	}, protocol.Options{})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	res, err := cluster.Query(ctx, protocol.Statement{
		Content:    "SELECT v1, v2 FROM benchks.t WHERE pk = ?",
		Values:     [][]byte{encodeInt64(1)},
		Idempotent: true,
	}, protocol.Options{})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(res.Rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(res.Rows))
	}
	if decodeInt64(res.Rows[0][0]) != 2 || decodeInt64(res.Rows[0][1]) != 3 {
		t.Errorf("row = %v, want [2, 3]", res.Rows[0])
	}
}

func TestClusterExecutePreparesLazilyPerHost(t *testing.T) {
	host := Host{Addr: "h1"}
	cluster, _ := newTestCluster(t, NewLoopbackConnector(), host)
	cluster.UseKeyspace("benchks")
	ctx := context.Background()

	ps, err := cluster.Prepare(ctx, "INSERT INTO benchks.t (pk, v1, v2) VALUES (?, ?, ?)", protocol.Options{})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	_, err = cluster.Execute(ctx, ps, [][]byte{encodeInt64(7), encodeInt64(14), encodeInt64(21)}, protocol.Options{Idempotent: true})
	if err != nil {
		t.Fatalf("Execute insert: %v", err)
	}

	selectPs, err := cluster.Prepare(ctx, "SELECT v1, v2 FROM benchks.t WHERE pk = ?", protocol.Options{})
	if err != nil {
		t.Fatalf("Prepare select: %v", err)
	}
	res, err := cluster.Execute(ctx, selectPs, [][]byte{encodeInt64(7)}, protocol.Options{Idempotent: true})
	if err != nil {
		t.Fatalf("Execute select: %v", err)
	}
	if len(res.Rows) != 1 || decodeInt64(res.Rows[0][0]) != 14 {
		t.Errorf("rows = %v, want one row with v1=14", res.Rows)
	}
}

func TestClusterBatchPreparesMissingEntries(t *testing.T) {
	host := Host{Addr: "h1"}
	cluster, _ := newTestCluster(t, NewLoopbackConnector(), host)
	cluster.UseKeyspace("benchks")
	ctx := context.Background()

	batch := protocol.BatchStatement{
		Kind:       protocol.BatchUnlogged,
		Idempotent: true,
		Entries: []protocol.BatchEntry{
			{CQL: "INSERT INTO benchks.t (pk, v1, v2) VALUES (?, ?, ?)", Values: [][]byte{encodeInt64(1), encodeInt64(1), encodeInt64(1)}},
			{CQL: "INSERT INTO benchks.t (pk, v1, v2) VALUES (?, ?, ?)", Values: [][]byte{encodeInt64(2), encodeInt64(2), encodeInt64(2)}},
		},
	}
	if _, err := cluster.Batch(ctx, batch, protocol.Options{}); err != nil {
		t.Fatalf("Batch: %v", err)
	}

	res, err := cluster.Query(ctx, protocol.Statement{
		Content: "SELECT v1, v2 FROM benchks.t WHERE pk = ?",
		Values:  [][]byte{encodeInt64(2)},
	}, protocol.Options{})
	if err != nil {
		t.Fatalf("select after batch: %v", err)
	}
	if len(res.Rows) != 1 || decodeInt64(res.Rows[0][0]) != 2 {
		t.Errorf("rows = %v, want row from batched insert", res.Rows)
	}
}

// alwaysFailConnector never yields a connection, simulating every host being
// unreachable.
type alwaysFailConnector struct{}

func (alwaysFailConnector) Connect(context.Context, Host, Distance) ([]Connection, error) {
	return nil, errors.New("connection refused")
}

func TestClusterConnectReturnsNoHostsAvailableWhenNothingConnects(t *testing.T) {
	host := Host{Addr: "h1"}
	registry := NewStaticRegistry(host)
	cluster := NewCluster(Config{
		Registry:      registry,
		Connector:     alwaysFailConnector{},
		LoadBalancing: NewRoundRobinPolicy(),
		Retry:         NewSimpleRetryPolicy(2),
	})

	err := cluster.Connect(context.Background())
	var noHosts *NoHostsAvailableError
	if !errors.As(err, &noHosts) {
		t.Fatalf("Connect err = %v, want *NoHostsAvailableError", err)
	}
	if _, ok := noHosts.Errors[host]; !ok {
		t.Errorf("NoHostsAvailableError.Errors missing entry for %v", host)
	}
}

// flakyConnection returns an Unavailable DetailedErrorResponse on
// every request, to exercise the retry-policy consultation path.
type flakyConnection struct {
	Connection
}

func (flakyConnection) SendRequest(ctx context.Context, req protocol.Request, timeout time.Duration) (protocol.Response, error) {
	return protocol.DetailedErrorResponse{
		ErrorResponse: protocol.ErrorResponse{Code: protocol.ErrUnavailable, Message: "not enough replicas"},
		Unavailable:   &protocol.UnavailableDetails{Consistency: protocol.Quorum, Required: 2, Alive: 0},
	}, nil
}

type flakyConnector struct{}

func (flakyConnector) Connect(context.Context, Host, Distance) ([]Connection, error) {
	return []Connection{flakyConnection{}}, nil
}

func TestClusterQueryReraisesAfterRetryBudgetExhausted(t *testing.T) {
	host := Host{Addr: "h1"}
	cluster, _ := newTestCluster(t, flakyConnector{}, host)

	_, err := cluster.Query(context.Background(), protocol.Statement{Content: "SELECT 1", Idempotent: true}, protocol.Options{})
	var qerr *protocol.QueryError
	if !errors.As(err, &qerr) {
		t.Fatalf("err = %v (%T), want *protocol.QueryError", err, err)
	}
	if qerr.Code != protocol.ErrUnavailable {
		t.Errorf("qerr.Code = %#x, want ErrUnavailable", qerr.Code)
	}
}

func TestClusterHostDownStopsTrackingHostConnections(t *testing.T) {
	host := Host{Addr: "h1"}
	cluster, registry := newTestCluster(t, NewLoopbackConnector(), host)

	registry.FireHostDown(host)
	time.Sleep(20 * time.Millisecond)

	cluster.mu.Lock()
	_, stillTracked := cluster.connections[host]
	cluster.mu.Unlock()
	if stillTracked {
		t.Errorf("host connections still tracked immediately after HostDown")
	}
}
