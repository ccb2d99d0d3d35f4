// internal/conversation/merge.go
package conversation

import (
	"sort"

	"github.com/user/memorial/internal/types"
)

// Merge returns list with msg inserted at its id position. list must be
// sorted ascending by id. A message whose id is already present leaves the
// list unchanged. The input slice is never modified.
func Merge(list []types.NormalizedMessage, msg types.NormalizedMessage) []types.NormalizedMessage {
	i := sort.Search(len(list), func(i int) bool { return list[i].ID >= msg.ID })
	if i < len(list) && list[i].ID == msg.ID {
		return list
	}
	out := make([]types.NormalizedMessage, 0, len(list)+1)
	out = append(out, list[:i]...)
	out = append(out, msg)
	out = append(out, list[i:]...)
	return out
}

// MergeAll merges every message of msgs into list.
func MergeAll(list, msgs []types.NormalizedMessage) []types.NormalizedMessage {
	for _, m := range msgs {
		list = Merge(list, m)
	}
	return list
}
