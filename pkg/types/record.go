package types

import (
	"encoding/json"
	"fmt"
)

// Record is a single keyed log entry. Records are immutable once created
// and belong to exactly one key.
type Record struct {
	Offset int64
	Value  int64
}

// On the wire a record is a two-element array [offset, value], matching the
// poll/sync payload format.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int64{r.Offset, r.Value})
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var pair [2]int64
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("record must be a [offset, value] pair: %w", err)
	}
	r.Offset = pair[0]
	r.Value = pair[1]
	return nil
}

func (r Record) String() string {
	return fmt.Sprintf("(%d,%d)", r.Offset, r.Value)
}
