package coordinator

import (
	"time"

	"github.com/google/uuid"

	"github.com/replog-io/replog/pkg/metrics"
	"github.com/replog-io/replog/pkg/offset"
	"github.com/replog-io/replog/pkg/record"
	"github.com/replog-io/replog/pkg/types"
	"github.com/replog-io/replog/util"
)

// Sender emits outbound envelopes on behalf of the coordinator. The node
// dispatcher implements it; tests substitute a capture fake.
type Sender interface {
	// NextMsgID returns a fresh message id for an outbound request.
	NextMsgID() int64
	// Send emits a single envelope, fire-and-forget.
	Send(dest string, body interface{})
}

// Coordinator drives the two-phase commit protocol: gather every peer's
// uncommitted records for the keys being committed, broadcast the merged
// result together with the new watermarks, and resolve the originating
// client request once every peer has acknowledged.
//
// Every in-flight round is tracked under its own correlation id with
// independent counters, so rounds interleave freely. All methods run on
// the node's single processing loop.
type Coordinator struct {
	log        *record.Log
	watermarks *offset.Manager
	sender     Sender
	timeout    time.Duration

	self  string
	peers []string // remote peers; the local node participates via direct calls

	rounds map[string]*commitRound
}

func NewCoordinator(log *record.Log, watermarks *offset.Manager, sender Sender, timeout time.Duration) *Coordinator {
	return &Coordinator{
		log:        log,
		watermarks: watermarks,
		sender:     sender,
		timeout:    timeout,
		rounds:     make(map[string]*commitRound),
	}
}

// SetTopology records the node identity and peer set. Called exactly once,
// when the node is initialized; both are immutable afterward.
func (c *Coordinator) SetTopology(self string, nodeIDs []string) {
	c.self = self
	c.peers = c.peers[:0]
	for _, id := range nodeIDs {
		if id != self {
			c.peers = append(c.peers, id)
		}
	}
	util.Info("Coordinator topology set: self=%s peers=%v", self, c.peers)
}

// Begin starts a commit round for the given watermarks on behalf of a
// client request. The round is registered before the first gather request
// goes out, so a reply can never race a missing entry.
func (c *Coordinator) Begin(client string, clientMsgID int64, offsets map[string]int64) {
	r := &commitRound{
		id:            uuid.NewString(),
		client:        client,
		clientMsgID:   clientMsgID,
		offsets:       offsets,
		updates:       make(map[string][]types.Record, len(offsets)),
		pendingGather: len(c.peers),
		startedAt:     time.Now(),
	}
	c.rounds[r.id] = r

	metrics.RoundsStarted.Inc()
	metrics.RoundsInFlight.Inc()

	// The local node answers the gather immediately.
	for key, limit := range offsets {
		r.fold(key, c.log.UncommittedUpTo(key, limit))
	}

	if r.pendingGather == 0 {
		c.broadcast(r)
		return
	}

	util.Debug("Round %s gathering from %d peers for keys %v", r.id, len(c.peers), offsets)
	for _, peer := range c.peers {
		c.sender.Send(peer, &types.GetUpdatesBody{
			Body:    types.Body{Type: types.MsgGetUpdates, MsgID: c.sender.NextMsgID()},
			RoundID: r.id,
			Offsets: offsets,
		})
	}
}

// HandleGatherReply folds one peer's uncommitted records into the round's
// merged set. The last reply triggers the broadcast phase.
func (c *Coordinator) HandleGatherReply(roundID string, updates map[string][]types.Record) {
	r, ok := c.rounds[roundID]
	if !ok {
		util.Debug("Gather reply for unknown round %s, ignoring", roundID)
		return
	}
	if r.broadcasting {
		util.Debug("Duplicate gather reply for round %s, ignoring", roundID)
		return
	}

	for key, recs := range updates {
		r.fold(key, recs)
	}

	r.pendingGather--
	if r.pendingGather == 0 {
		c.broadcast(r)
	}
}

// broadcast transitions a round from gathering to broadcasting: the commit
// is applied locally, then the merged payload fans out to every peer.
func (c *Coordinator) broadcast(r *commitRound) {
	r.broadcasting = true
	c.ApplyCommit(r.offsets, r.updates)

	r.pendingAcks = len(c.peers)
	if r.pendingAcks == 0 {
		c.resolve(r)
		return
	}

	util.Debug("Round %s broadcasting to %d peers", r.id, len(c.peers))
	for _, peer := range c.peers {
		c.sender.Send(peer, &types.SyncBody{
			Body:    types.Body{Type: types.MsgSync, MsgID: c.sender.NextMsgID()},
			RoundID: r.id,
			Offsets: r.offsets,
			Updates: r.updates,
		})
	}
}

// HandleAck consumes one peer acknowledgement of the broadcast. The final
// acknowledgement resolves the round.
func (c *Coordinator) HandleAck(roundID string) {
	r, ok := c.rounds[roundID]
	if !ok {
		// At-least-once delivery can replay acks after resolution.
		util.Debug("Ack for unknown round %s, ignoring", roundID)
		return
	}
	if !r.broadcasting {
		util.Warn("Ack for round %s before broadcast, ignoring", roundID)
		return
	}

	r.pendingAcks--
	if r.pendingAcks == 0 {
		c.resolve(r)
	}
}

// resolve replies to the originating client and discards all round state.
// A round id is never referenced again after this point.
func (c *Coordinator) resolve(r *commitRound) {
	c.sender.Send(r.client, &types.Body{
		Type:      types.MsgCommitOffsetsOk,
		MsgID:     c.sender.NextMsgID(),
		InReplyTo: r.clientMsgID,
	})
	delete(c.rounds, r.id)

	metrics.RoundsResolved.Inc()
	metrics.RoundsInFlight.Dec()
	metrics.RoundDuration.Observe(time.Since(r.startedAt).Seconds())
	util.Debug("Round %s resolved in %v", r.id, time.Since(r.startedAt))
}

// ApplyCommit performs the local commit application for one round payload:
// drain the uncommitted tail, advance the watermarks, fold the gathered
// records into the committed sequences. Invoked both on the coordinating
// node and by peers receiving the broadcast.
func (c *Coordinator) ApplyCommit(offsets map[string]int64, updates map[string][]types.Record) {
	for key, limit := range offsets {
		c.log.DrainUncommittedUpTo(key, limit)
		c.watermarks.Advance(key, limit)
	}
	for key, recs := range updates {
		c.log.MergeIntoCommitted(key, recs)
	}
}

// Sweep expires rounds that have exceeded the commit timeout, reporting
// the failure to the waiting client instead of stalling forever on a
// silent peer.
func (c *Coordinator) Sweep(now time.Time) {
	for id, r := range c.rounds {
		if c.timeout <= 0 || now.Sub(r.startedAt) < c.timeout {
			continue
		}

		util.Warn("Round %s expired after %v (gather=%d acks=%d outstanding)",
			id, c.timeout, r.pendingGather, r.pendingAcks)
		c.sender.Send(r.client, &types.ErrorBody{
			Body: types.Body{
				Type:      types.MsgError,
				MsgID:     c.sender.NextMsgID(),
				InReplyTo: r.clientMsgID,
			},
			Code: types.ErrCodeUnavailable,
			Text: "commit round timed out",
		})
		delete(c.rounds, id)

		metrics.RoundsExpired.Inc()
		metrics.RoundsInFlight.Dec()
	}
}

// InFlight reports the number of unresolved rounds.
func (c *Coordinator) InFlight() int {
	return len(c.rounds)
}
