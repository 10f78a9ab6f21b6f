package coordinator

import (
	"time"

	"github.com/replog-io/replog/pkg/types"
)

// commitRound is the per-round bookkeeping entry. It exists from Begin
// until resolution or expiry and must never be referenced after removal.
type commitRound struct {
	id          string
	client      string
	clientMsgID int64

	offsets map[string]int64         // watermarks requested by the client
	updates map[string][]types.Record // merged gather results per key

	pendingGather int
	pendingAcks   int
	broadcasting  bool
	startedAt     time.Time
}

func (r *commitRound) fold(key string, recs []types.Record) {
	if len(recs) == 0 {
		return
	}
	r.updates[key] = append(r.updates[key], recs...)
}
