package node

import (
	"encoding/json"
	"time"

	"github.com/replog-io/replog/pkg/config"
	"github.com/replog-io/replog/pkg/coordinator"
	"github.com/replog-io/replog/pkg/metrics"
	"github.com/replog-io/replog/pkg/offset"
	"github.com/replog-io/replog/pkg/record"
	"github.com/replog-io/replog/pkg/transport"
	"github.com/replog-io/replog/pkg/types"
	"github.com/replog-io/replog/util"
)

// Node routes inbound envelopes to the record log, the watermark table and
// the commit coordinator, and emits outbound messages on the fabric.
//
// A single goroutine owns all node state: Run processes one inbound
// message at a time, so the log, watermarks and round table never see
// parallel mutation. Concurrency exists only across nodes.
type Node struct {
	cfg        *config.Config
	fabric     *transport.Fabric
	log        *record.Log
	watermarks *offset.Manager
	coord      *coordinator.Coordinator

	id          string
	peers       []string
	neighbors   []string
	nextMsgID   int64
	initialized bool
}

func NewNode(cfg *config.Config, fabric *transport.Fabric, log *record.Log, watermarks *offset.Manager) *Node {
	n := &Node{
		cfg:        cfg,
		fabric:     fabric,
		log:        log,
		watermarks: watermarks,
	}
	timeout := time.Duration(cfg.CommitTimeoutMS) * time.Millisecond
	n.coord = coordinator.NewCoordinator(log, watermarks, n, timeout)
	return n
}

// NextMsgID implements coordinator.Sender. Only the processing loop calls
// it, so a plain increment is safe.
func (n *Node) NextMsgID() int64 {
	n.nextMsgID++
	return n.nextMsgID
}

// Send implements coordinator.Sender. Outbound sends are fire-and-forget;
// a write failure is logged, never propagated.
func (n *Node) Send(dest string, body interface{}) {
	if err := n.fabric.Send(n.id, dest, body); err != nil {
		util.Error("Failed to send to %s: %v", dest, err)
	}
}

// Run processes inbound messages until the fabric closes. The sweep ticker
// shares the loop so expired commit rounds are reaped without any second
// mutator.
func (n *Node) Run() error {
	n.fabric.Start()

	sweep := time.NewTicker(time.Duration(n.cfg.SweepIntervalMS) * time.Millisecond)
	defer sweep.Stop()

	for {
		select {
		case msg, ok := <-n.fabric.Inbox():
			if !ok {
				util.Info("Fabric closed, node %s shutting down", n.id)
				return nil
			}
			n.handleMessage(msg)
		case now := <-sweep.C:
			n.coord.Sweep(now)
		}
	}
}

func (n *Node) handleMessage(msg transport.Message) {
	var base types.Body
	if err := json.Unmarshal(msg.Body, &base); err != nil {
		util.Warn("Dropping message with undecodable body from %s: %v", msg.Src, err)
		return
	}

	metrics.MessagesProcessed.WithLabelValues(base.Type).Inc()

	if !n.initialized && base.Type != types.MsgInit {
		util.Warn("Dropping %s from %s: node not initialized", base.Type, msg.Src)
		return
	}

	switch base.Type {
	case types.MsgInit:
		n.handleInit(msg)
	case types.MsgTopology:
		n.handleTopology(msg, base)
	case types.MsgSend:
		n.handleSend(msg)
	case types.MsgPoll:
		n.handlePoll(msg)
	case types.MsgCommitOffsets:
		n.handleCommitOffsets(msg)
	case types.MsgListCommittedOffsets:
		n.handleListCommittedOffsets(msg)
	case types.MsgGetUpdates:
		n.handleGetUpdates(msg)
	case types.MsgGetUpdatesOk:
		n.handleGetUpdatesOk(msg)
	case types.MsgSync:
		n.handleSync(msg)
	case types.MsgSyncOk:
		n.handleSyncOk(msg)
	default:
		// Covers unknown kinds and uncorrelated error inputs alike.
		n.Send(msg.Src, &types.ErrorBody{
			Body: types.Body{Type: types.MsgError, MsgID: n.NextMsgID(), InReplyTo: base.MsgID},
			Code: types.ErrCodeNotSupported,
			Text: "not supported",
		})
	}
}

// reply builds the common base for a response to the given request body.
func (n *Node) reply(kind string, req types.Body) types.Body {
	return types.Body{Type: kind, MsgID: n.NextMsgID(), InReplyTo: req.MsgID}
}

func (n *Node) handleInit(msg transport.Message) {
	var body types.InitBody
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		util.Error("Bad init body from %s: %v", msg.Src, err)
		return
	}

	n.id = body.NodeID
	n.peers = body.NodeIDs
	n.initialized = true
	n.coord.SetTopology(body.NodeID, body.NodeIDs)

	util.Info("Node %s initialized with cluster %v", n.id, n.peers)
	n.Send(msg.Src, &types.Body{Type: types.MsgInitOk, MsgID: n.NextMsgID(), InReplyTo: body.MsgID})
}

func (n *Node) handleTopology(msg transport.Message, base types.Body) {
	var body types.TopologyBody
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		util.Error("Bad topology body from %s: %v", msg.Src, err)
		return
	}

	n.neighbors = body.Topology[n.id]
	util.Debug("Node %s neighbors: %v", n.id, n.neighbors)
	n.Send(msg.Src, n.reply(types.MsgTopologyOk, base))
}

func (n *Node) handleSend(msg transport.Message) {
	var body types.SendBody
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		util.Error("Bad send body from %s: %v", msg.Src, err)
		return
	}

	offsetAssigned := n.log.Append(body.Key, body.Msg)
	metrics.RecordsAppended.Inc()

	n.Send(msg.Src, &types.SendOkBody{
		Body:   n.reply(types.MsgSendOk, body.Body),
		Offset: offsetAssigned,
	})
}

func (n *Node) handlePoll(msg transport.Message) {
	var body types.PollBody
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		util.Error("Bad poll body from %s: %v", msg.Src, err)
		return
	}

	msgs := make(map[string][]types.Record, len(body.Offsets))
	for key, from := range body.Offsets {
		recs := n.log.CommittedFrom(key, from)
		if recs == nil {
			recs = []types.Record{}
		}
		metrics.RecordsPolled.Add(float64(len(recs)))
		msgs[key] = recs
	}

	n.Send(msg.Src, &types.PollOkBody{
		Body: n.reply(types.MsgPollOk, body.Body),
		Msgs: msgs,
	})
}

func (n *Node) handleCommitOffsets(msg transport.Message) {
	var body types.CommitOffsetsBody
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		util.Error("Bad commit_offsets body from %s: %v", msg.Src, err)
		return
	}

	// No reply yet; the coordinator answers once every peer acknowledged.
	n.coord.Begin(msg.Src, body.MsgID, body.Offsets)
}

func (n *Node) handleListCommittedOffsets(msg transport.Message) {
	var body types.ListCommittedOffsetsBody
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		util.Error("Bad list_committed_offsets body from %s: %v", msg.Src, err)
		return
	}

	n.Send(msg.Src, &types.ListCommittedOffsetsOkBody{
		Body:    n.reply(types.MsgListCommittedOffsetsOk, body.Body),
		Offsets: n.watermarks.Snapshot(body.Keys),
	})
}

func (n *Node) handleGetUpdates(msg transport.Message) {
	var body types.GetUpdatesBody
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		util.Error("Bad get_updates body from %s: %v", msg.Src, err)
		return
	}

	updates := make(map[string][]types.Record, len(body.Offsets))
	for key, limit := range body.Offsets {
		if recs := n.log.UncommittedUpTo(key, limit); len(recs) > 0 {
			updates[key] = recs
		}
	}

	n.Send(msg.Src, &types.GetUpdatesOkBody{
		Body:    n.reply(types.MsgGetUpdatesOk, body.Body),
		RoundID: body.RoundID,
		Updates: updates,
	})
}

func (n *Node) handleGetUpdatesOk(msg transport.Message) {
	var body types.GetUpdatesOkBody
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		util.Error("Bad get_updates_ok body from %s: %v", msg.Src, err)
		return
	}
	n.coord.HandleGatherReply(body.RoundID, body.Updates)
}

func (n *Node) handleSync(msg transport.Message) {
	var body types.SyncBody
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		util.Error("Bad sync body from %s: %v", msg.Src, err)
		return
	}

	n.coord.ApplyCommit(body.Offsets, body.Updates)

	n.Send(msg.Src, &types.SyncOkBody{
		Body:    n.reply(types.MsgSyncOk, body.Body),
		RoundID: body.RoundID,
	})
}

func (n *Node) handleSyncOk(msg transport.Message) {
	var body types.SyncOkBody
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		util.Error("Bad sync_ok body from %s: %v", msg.Src, err)
		return
	}
	n.coord.HandleAck(body.RoundID)
}

// ID returns the node identity assigned at initialization.
func (n *Node) ID() string {
	return n.id
}
