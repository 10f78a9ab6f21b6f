package types

// Message kinds understood by the node. Client-facing kinds follow the
// Maelstrom kafka workload; get_updates/sync are the peer-to-peer commit
// protocol.
const (
	MsgInit                   = "init"
	MsgInitOk                 = "init_ok"
	MsgTopology               = "topology"
	MsgTopologyOk             = "topology_ok"
	MsgSend                   = "send"
	MsgSendOk                 = "send_ok"
	MsgPoll                   = "poll"
	MsgPollOk                 = "poll_ok"
	MsgCommitOffsets          = "commit_offsets"
	MsgCommitOffsetsOk        = "commit_offsets_ok"
	MsgListCommittedOffsets   = "list_committed_offsets"
	MsgListCommittedOffsetsOk = "list_committed_offsets_ok"
	MsgGetUpdates             = "get_updates"
	MsgGetUpdatesOk           = "get_updates_ok"
	MsgSync                   = "sync"
	MsgSyncOk                 = "sync_ok"
	MsgError                  = "error"
)

// Error taxonomy codes carried in error bodies.
const (
	ErrCodeNotSupported = 10
	ErrCodeUnavailable  = 11
)

// Body holds the fields common to every message body.
type Body struct {
	Type      string `json:"type"`
	MsgID     int64  `json:"msg_id,omitempty"`
	InReplyTo int64  `json:"in_reply_to,omitempty"`
}

type InitBody struct {
	Body
	NodeID  string   `json:"node_id"`
	NodeIDs []string `json:"node_ids"`
}

type TopologyBody struct {
	Body
	Topology map[string][]string `json:"topology"`
}

type SendBody struct {
	Body
	Key string `json:"key"`
	Msg int64  `json:"msg"`
}

type SendOkBody struct {
	Body
	Offset int64 `json:"offset"`
}

type PollBody struct {
	Body
	Offsets map[string]int64 `json:"offsets"`
}

type PollOkBody struct {
	Body
	Msgs map[string][]Record `json:"msgs"`
}

type CommitOffsetsBody struct {
	Body
	Offsets map[string]int64 `json:"offsets"`
}

type ListCommittedOffsetsBody struct {
	Body
	Keys []string `json:"keys"`
}

type ListCommittedOffsetsOkBody struct {
	Body
	Offsets map[string]int64 `json:"offsets"`
}

// GetUpdatesBody asks a peer for its uncommitted records per key, up to the
// offsets being committed. RoundID correlates the reply with its round.
type GetUpdatesBody struct {
	Body
	RoundID string           `json:"round_id"`
	Offsets map[string]int64 `json:"offsets"`
}

type GetUpdatesOkBody struct {
	Body
	RoundID string              `json:"round_id"`
	Updates map[string][]Record `json:"updates"`
}

// SyncBody carries the merged commit payload of a round: the watermarks to
// adopt and every record gathered for those keys.
type SyncBody struct {
	Body
	RoundID string              `json:"round_id"`
	Offsets map[string]int64    `json:"offsets"`
	Updates map[string][]Record `json:"updates"`
}

type SyncOkBody struct {
	Body
	RoundID string `json:"round_id"`
}

type ErrorBody struct {
	Body
	Code int    `json:"code"`
	Text string `json:"text"`
}
