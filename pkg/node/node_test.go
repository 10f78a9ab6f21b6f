package node_test

import (
	"bufio"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/replog-io/replog/pkg/config"
	"github.com/replog-io/replog/pkg/node"
	"github.com/replog-io/replog/pkg/offset"
	"github.com/replog-io/replog/pkg/record"
	"github.com/replog-io/replog/pkg/transport"
)

// testCluster wires real nodes together over in-memory pipes. A router
// goroutine per node forwards peer-addressed envelopes and captures
// everything addressed to a client.
type testCluster struct {
	t      *testing.T
	stdins map[string]*io.PipeWriter
	client chan transport.Message
	msgID  int64
}

func startCluster(t *testing.T, ids []string) *testCluster {
	t.Helper()
	tc := &testCluster{
		t:      t,
		stdins: make(map[string]*io.PipeWriter, len(ids)),
		client: make(chan transport.Message, 64),
	}

	for _, id := range ids {
		inR, inW := io.Pipe()
		outR, outW := io.Pipe()

		cfg := &config.Config{CommitTimeoutMS: 5000, SweepIntervalMS: 50, InboxBufferSize: 16}
		cfg.Normalize()

		fabric := transport.NewFabric(inR, outW, cfg.InboxBufferSize)
		n := node.NewNode(cfg, fabric, record.NewLog(), offset.NewManager())

		tc.stdins[id] = inW
		go func() {
			if err := n.Run(); err != nil {
				t.Errorf("node exited with error: %v", err)
			}
		}()
		go tc.route(outR)
	}

	for _, id := range ids {
		reply := tc.rpc(id, map[string]interface{}{
			"type": "init", "node_id": id, "node_ids": ids,
		})
		if reply["type"] != "init_ok" {
			t.Fatalf("node %s failed to initialize: %v", id, reply)
		}
	}
	return tc
}

func (tc *testCluster) route(out io.Reader) {
	scanner := bufio.NewScanner(out)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)

		var msg transport.Message
		if err := json.Unmarshal(line, &msg); err != nil {
			tc.t.Errorf("node emitted invalid envelope %q: %v", line, err)
			continue
		}

		if w, ok := tc.stdins[msg.Dest]; ok {
			if _, err := w.Write(append(line, '\n')); err != nil {
				return
			}
			continue
		}
		tc.client <- msg
	}
}

// rpc sends one request as client c1 and waits for the correlated reply.
func (tc *testCluster) rpc(dest string, body map[string]interface{}) map[string]interface{} {
	tc.t.Helper()

	tc.msgID++
	body["msg_id"] = tc.msgID

	raw, err := json.Marshal(body)
	if err != nil {
		tc.t.Fatalf("failed to marshal request: %v", err)
	}
	env, err := json.Marshal(transport.Message{Src: "c1", Dest: dest, Body: raw})
	if err != nil {
		tc.t.Fatalf("failed to marshal envelope: %v", err)
	}
	if _, err := tc.stdins[dest].Write(append(env, '\n')); err != nil {
		tc.t.Fatalf("failed to deliver request to %s: %v", dest, err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case msg := <-tc.client:
			var reply map[string]interface{}
			if err := json.Unmarshal(msg.Body, &reply); err != nil {
				tc.t.Fatalf("undecodable client reply: %v", err)
			}
			if irt, ok := reply["in_reply_to"].(float64); ok && int64(irt) == tc.msgID {
				return reply
			}
		case <-deadline:
			tc.t.Fatalf("timed out waiting for reply to %v from %s", body["type"], dest)
		}
	}
}

func polled(t *testing.T, reply map[string]interface{}, key string) [][2]int64 {
	t.Helper()
	msgs, ok := reply["msgs"].(map[string]interface{})
	if !ok {
		t.Fatalf("poll_ok without msgs: %v", reply)
	}
	entries, ok := msgs[key].([]interface{})
	if !ok {
		t.Fatalf("poll_ok missing key %q: %v", key, reply)
	}
	out := make([][2]int64, 0, len(entries))
	for _, e := range entries {
		pair := e.([]interface{})
		out = append(out, [2]int64{int64(pair[0].(float64)), int64(pair[1].(float64))})
	}
	return out
}

func TestClusterCommitRound(t *testing.T) {
	tc := startCluster(t, []string{"n0", "n1", "n2"})

	reply := tc.rpc("n0", map[string]interface{}{"type": "send", "key": "x", "msg": 10})
	if reply["type"] != "send_ok" || reply["offset"].(float64) != 0 {
		t.Fatalf("expected send_ok with offset 0, got %v", reply)
	}
	reply = tc.rpc("n0", map[string]interface{}{"type": "send", "key": "x", "msg": 20})
	if reply["offset"].(float64) != 1 {
		t.Fatalf("expected offset 1, got %v", reply)
	}

	// Uncommitted records are invisible to consumers.
	reply = tc.rpc("n0", map[string]interface{}{"type": "poll", "offsets": map[string]int64{"x": 0}})
	if got := polled(t, reply, "x"); len(got) != 0 {
		t.Fatalf("expected empty poll before commit, got %v", got)
	}

	reply = tc.rpc("n0", map[string]interface{}{"type": "commit_offsets", "offsets": map[string]int64{"x": 1}})
	if reply["type"] != "commit_offsets_ok" {
		t.Fatalf("expected commit_offsets_ok, got %v", reply)
	}

	// Every node now serves the committed records.
	for _, id := range []string{"n0", "n1", "n2"} {
		reply = tc.rpc(id, map[string]interface{}{"type": "poll", "offsets": map[string]int64{"x": 0}})
		got := polled(t, reply, "x")
		if len(got) != 2 || got[0] != [2]int64{0, 10} || got[1] != [2]int64{1, 20} {
			t.Fatalf("node %s: expected [[0,10],[1,20]], got %v", id, got)
		}

		reply = tc.rpc(id, map[string]interface{}{"type": "poll", "offsets": map[string]int64{"x": 1}})
		got = polled(t, reply, "x")
		if len(got) != 1 || got[0] != [2]int64{1, 20} {
			t.Fatalf("node %s: expected [[1,20]], got %v", id, got)
		}

		reply = tc.rpc(id, map[string]interface{}{"type": "list_committed_offsets", "keys": []string{"x", "y"}})
		offsets := reply["offsets"].(map[string]interface{})
		if len(offsets) != 1 || offsets["x"].(float64) != 1 {
			t.Fatalf("node %s: expected offsets {x:1} omitting y, got %v", id, offsets)
		}
	}
}

func TestClusterGathersRecordsFromPeers(t *testing.T) {
	tc := startCluster(t, []string{"n0", "n1", "n2"})

	// Record lives on n1; the commit is requested through n2.
	reply := tc.rpc("n1", map[string]interface{}{"type": "send", "key": "y", "msg": 7})
	if reply["offset"].(float64) != 0 {
		t.Fatalf("expected offset 0, got %v", reply)
	}

	reply = tc.rpc("n2", map[string]interface{}{"type": "commit_offsets", "offsets": map[string]int64{"y": 0}})
	if reply["type"] != "commit_offsets_ok" {
		t.Fatalf("expected commit_offsets_ok, got %v", reply)
	}

	// The gathered record is committed cluster-wide, including on a node
	// that never touched it.
	reply = tc.rpc("n0", map[string]interface{}{"type": "poll", "offsets": map[string]int64{"y": 0}})
	got := polled(t, reply, "y")
	if len(got) != 1 || got[0] != [2]int64{0, 7} {
		t.Fatalf("expected [[0,7]] on n0, got %v", got)
	}
}

func TestUnsupportedKindGetsErrorReply(t *testing.T) {
	tc := startCluster(t, []string{"n0"})

	reply := tc.rpc("n0", map[string]interface{}{"type": "frobnicate"})
	if reply["type"] != "error" {
		t.Fatalf("expected error reply, got %v", reply)
	}
	if reply["code"].(float64) != 10 || reply["text"] != "not supported" {
		t.Fatalf("expected code 10 'not supported', got %v", reply)
	}
}
