package workerproto_test

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/trikhub/gateway/internal/gateway/workerproto"
)

// pipeWorker simulates a worker subprocess: it reads requests off in,
// applies handle to each, and writes the resulting line to out.
func pipeWorker(t *testing.T, in io.Reader, out io.Writer, handle func(workerproto.Message) *workerproto.Message) {
	t.Helper()
	go func() {
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 1<<20), 1<<20)
		for scanner.Scan() {
			var msg workerproto.Message
			if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
				continue
			}
			resp := handle(msg)
			if resp == nil {
				continue
			}
			data, _ := json.Marshal(resp)
			out.Write(append(data, '\n'))
		}
	}()
}

func TestCallEchoesResult(t *testing.T) {
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()

	pipeWorker(t, stdinR, stdoutW, func(msg workerproto.Message) *workerproto.Message {
		return &workerproto.Message{JSONRPC: "2.0", ID: msg.ID, Result: json.RawMessage(`"ok"`)}
	})

	conn := workerproto.NewConn("test-worker", stdinW, stdoutR)
	defer conn.Close()

	result, rpcErr, err := conn.Call(context.Background(), "health", map[string]string{})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if rpcErr != nil {
		t.Fatalf("Call returned rpc error: %v", rpcErr)
	}
	if string(result) != `"ok"` {
		t.Fatalf("result = %s, want \"ok\"", result)
	}
}

func TestCallsCorrelateIndependently(t *testing.T) {
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()

	// Echo back the request's own params as the result, so a mismatch in
	// correlation shows up as a wrong value rather than a hang.
	pipeWorker(t, stdinR, stdoutW, func(msg workerproto.Message) *workerproto.Message {
		return &workerproto.Message{JSONRPC: "2.0", ID: msg.ID, Result: msg.Params}
	})

	conn := workerproto.NewConn("test-worker", stdinW, stdoutR)
	defer conn.Close()

	const n = 20
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			result, rpcErr, err := conn.Call(context.Background(), "noop", i)
			if err != nil {
				errs <- err
				return
			}
			if rpcErr != nil {
				errs <- rpcErr
				return
			}
			var echoed int
			if err := json.Unmarshal(result, &echoed); err != nil {
				errs <- err
				return
			}
			if echoed != i {
				errs <- fmt.Errorf("call %d received the response for call %d", i, echoed)
				return
			}
			errs <- nil
		}()
	}
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("concurrent call failed: %v", err)
		}
	}
}

func TestInboundRequestIsDemultiplexed(t *testing.T) {
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()

	conn := workerproto.NewConn("test-worker", stdinW, stdoutR)
	defer conn.Close()

	params, _ := json.Marshal(map[string]string{"key": "foo"})
	line, _ := json.Marshal(workerproto.Message{JSONRPC: "2.0", ID: "worker-1", Method: "storage.get", Params: params})
	go func() { stdoutW.Write(append(line, '\n')) }()

	select {
	case req := <-conn.Inbound:
		if req.Method != "storage.get" || req.ID != "worker-1" {
			t.Fatalf("got %+v", req)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for inbound request")
	}
}

func TestPendingCallsResolveOnChannelClose(t *testing.T) {
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()

	// Worker reads the request but never answers, then hangs up.
	go func() {
		scanner := bufio.NewScanner(stdinR)
		scanner.Buffer(make([]byte, 1<<20), 1<<20)
		scanner.Scan()
		stdoutW.Close()
	}()

	conn := workerproto.NewConn("test-worker", stdinW, stdoutR)
	defer conn.Close()

	_, rpcErr, err := conn.Call(context.Background(), "invoke", nil)
	if err != nil {
		t.Fatalf("Call returned transport error instead of synthetic RPC error: %v", err)
	}
	if rpcErr == nil || rpcErr.Code != workerproto.ErrChannelClosed {
		t.Fatalf("rpcErr = %+v, want ErrChannelClosed", rpcErr)
	}
}
