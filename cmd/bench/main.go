// Command bench drives load through a Session, measuring insert/select
// latency the same way the teacher's gocql/tests benchmark did over its own
// session type. Since the wire codec and connection handshake are out of
// this module's scope (§1), bench runs against an in-memory loopback
// backend (transport.LoopbackConnector) rather than a live cluster; wiring a
// real Connector built on a concrete codec is left to that codec's own
// package.
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/profile"

	"github.com/gocql/gocql"
	scylla "github.com/scylladb/scylla-go-driver"
	"github.com/scylladb/scylla-go-driver/protocol"
	"github.com/scylladb/scylla-go-driver/transport"
)

const (
	insertStmt = "INSERT INTO benchks.benchtab (pk, v1, v2) VALUES(?, ?, ?)"
	selectStmt = "SELECT v1, v2 FROM benchks.benchtab WHERE pk = ?"
	samples    = 20_000
)

type workload int

const (
	workloadInserts workload = iota
	workloadSelects
	workloadMixed
)

type config struct {
	concurrency int64
	tasks       int64
	batchSize   int64
	workload    workload
	profileCPU  bool
	profileMem  bool
}

func readConfig() config {
	var c config
	var w string
	flag.Int64Var(&c.concurrency, "concurrency", 256, "number of concurrent workers")
	flag.Int64Var(&c.tasks, "tasks", 1_000_000, "total number of operations")
	flag.Int64Var(&c.batchSize, "batch-size", 128, "operations claimed per worker iteration")
	flag.StringVar(&w, "workload", "mixed", "inserts|selects|mixed")
	flag.BoolVar(&c.profileCPU, "profile-cpu", false, "enable CPU profiling")
	flag.BoolVar(&c.profileMem, "profile-mem", false, "enable memory profiling")
	flag.Parse()

	switch w {
	case "inserts":
		c.workload = workloadInserts
	case "selects":
		c.workload = workloadSelects
	default:
		c.workload = workloadMixed
	}
	return c
}

func main() {
	cfg := readConfig()
	log.Printf("benchmark configuration: %#v\n", cfg)

	if cfg.profileCPU && cfg.profileMem {
		log.Fatal("select one profile type")
	}
	if cfg.profileCPU {
		log.Println("running with CPU profiling")
		defer profile.Start(profile.CPUProfile).Stop()
	}
	if cfg.profileMem {
		log.Println("running with memory profiling")
		defer profile.Start(profile.MemProfile).Stop()
	}

	ctx := context.Background()
	host := transport.Host{ID: gocql.UUID{}, Addr: "loopback:9042", Datacenter: "dc1", Rack: "rack1"}

	session, err := scylla.NewSession(ctx, scylla.SessionConfig{
		Connector:     transport.NewLoopbackConnector(),
		Registry:      transport.NewStaticRegistry(host),
		Keyspace:      "benchks",
		Consistency:   protocol.Quorum,
		LoadBalancing: transport.NewRoundRobinPolicy(),
		Retry:         transport.NewSimpleRetryPolicy(3),
	})
	if err != nil {
		log.Fatal(err)
	}
	defer session.Close()

	var wg sync.WaitGroup
	nextBatchStart := int64(0)

	log.Println("starting the benchmark")
	startTime := time.Now()

	selectCh := make(chan time.Duration, 2*samples)
	insertCh := make(chan time.Duration, 2*samples)

	for i := int64(0); i < cfg.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				curBatchStart := atomic.AddInt64(&nextBatchStart, cfg.batchSize)
				if curBatchStart >= cfg.tasks {
					return
				}
				curBatchEnd := minInt64(curBatchStart+cfg.batchSize, cfg.tasks)

				for pk := curBatchStart; pk < curBatchEnd; pk++ {
					sample := rand.Int63n(cfg.tasks) < samples

					if cfg.workload == workloadInserts || cfg.workload == workloadMixed {
						start := time.Now()
						_, err := session.Query(ctx, protocol.Statement{
							Content:    insertStmt,
							Values:     [][]byte{encodeInt64(pk), encodeInt64(2 * pk), encodeInt64(3 * pk)},
							Idempotent: true,
						}, protocol.Options{})
						if err != nil {
							log.Fatal(err)
						}
						if sample {
							insertCh <- time.Since(start)
						}
					}

					if cfg.workload == workloadSelects || cfg.workload == workloadMixed {
						start := time.Now()
						_, err := session.Query(ctx, protocol.Statement{
							Content:    selectStmt,
							Values:     [][]byte{encodeInt64(pk)},
							Idempotent: true,
						}, protocol.Options{})
						if err != nil {
							log.Fatal(err)
						}
						if sample {
							selectCh <- time.Since(start)
						}
					}
				}
			}
		}()
	}

	wg.Wait()
	benchTime := time.Since(startTime)

	fmt.Printf("time %d\n", benchTime.Milliseconds())
	printLatencyInfo("select", selectCh)
	printLatencyInfo("insert", insertCh)
	log.Printf("finished\nbenchmark time: %d ms\n", benchTime.Milliseconds())
}

func printLatencyInfo(name string, ch chan time.Duration) {
	cnt := len(ch)
	for i := 0; i < cnt; i++ {
		fmt.Printf("%s %d\n", name, (<-ch).Nanoseconds())
	}
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func encodeInt64(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}
