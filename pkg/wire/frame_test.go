package wire

import (
	"net"
	"testing"
	"time"
)

func TestEncodeProducesNonEmptyBody(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		msg  any
	}{
		{
			name: "RegisterAgent",
			kind: KindRegisterAgent,
			msg:  RegisterAgent{AgentID: "agent-1", IP: "10.0.0.7", Port: 8765, Score: 42},
		},
		{
			name: "Polling",
			kind: KindPolling,
			msg:  Polling{Round: 3, AgentID: "agent-1"},
		},
		{
			name: "Ack",
			kind: KindAck,
			msg:  Ack{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := Encode(tt.kind, tt.msg)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if len(body) == 0 {
				t.Fatalf("Encode() produced empty body")
			}
		})
	}
}

func TestWriteReadFrame(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	want := RegisterAgent{AgentID: "agent-9", IP: "127.0.0.1", Port: 9017, Score: 7}

	go func() {
		_ = WriteFrame(client, KindRegisterAgent, want, time.Second)
	}()

	kind, payload, err := ReadFrame(server, time.Second)
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	if kind != KindRegisterAgent {
		t.Fatalf("ReadFrame() kind = %v, want %v", kind, KindRegisterAgent)
	}

	var got RegisterAgent
	if err := DecodePayload(payload, &got); err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	if got != want {
		t.Errorf("round-tripped message = %+v, want %+v", got, want)
	}
}
