package agent

import (
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fl-coordination/fabric/pkg/directory"
	"github.com/fl-coordination/fabric/pkg/federation"
	"github.com/fl-coordination/fabric/pkg/wire"
)

// fakeDirectory answers get_agents_count with an increasing count on
// every call, letting awaitGracePeriod's early-exit path be exercised
// without a real store.
func fakeDirectory(t *testing.T, count *int32) *directory.Client {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	go wire.Serve(ln, func(conn net.Conn, kind wire.Kind, payload []byte) {
		switch kind {
		case wire.KindGetAgentsCount:
			n := atomic.AddInt32(count, 1)
			_ = wire.WriteFrame(conn, wire.KindGetAgentsCount, wire.GetAgentsCountReply{Count: int(n)}, 5*time.Second)
		default:
			_ = wire.WriteFrame(conn, wire.KindErrorReply, wire.ErrorReply{Reason: "unexpected"}, 5*time.Second)
		}
	})
	t.Cleanup(func() { ln.Close() })
	return directory.NewClient(ln.Addr().String())
}

func TestAwaitGracePeriodEarlyExit(t *testing.T) {
	var count int32
	dir := fakeDirectory(t, &count)

	a := NewAgent("agent-1", "10.0.0.1", federation.AgentConfig{
		ExpectedNumAgents:       2,
		RegistrationGracePeriod: 30 * time.Second,
	}, "", dir, nil, nil)

	start := time.Now()
	a.awaitGracePeriod()
	elapsed := time.Since(start)

	if elapsed >= 30*time.Second {
		t.Fatalf("awaitGracePeriod took %v, want early exit well under the 30s grace period", elapsed)
	}
	if atomic.LoadInt32(&count) < 2 {
		t.Fatalf("count = %d, want at least 2 polls before early exit", count)
	}
}
