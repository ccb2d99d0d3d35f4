package conversation

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/user/memorial/internal/types"
)

func msg(id int64) types.NormalizedMessage {
	return types.NormalizedMessage{ID: types.TurnID(id), SessionID: "s"}
}

func TestMergeDuplicateIsNoop(t *testing.T) {
	list := []types.NormalizedMessage{msg(1), msg(2), msg(3)}
	got := Merge(list, msg(2))
	if len(got) != 3 {
		t.Errorf("expected length 3, got %d", len(got))
	}
}

func TestMergeInsertsInOrder(t *testing.T) {
	list := []types.NormalizedMessage{msg(1), msg(5)}
	got := Merge(list, msg(3))
	if len(got) != 3 || got[1].ID != 3 {
		t.Errorf("expected 3 in the middle, got %+v", got)
	}
	if len(list) != 2 || list[1].ID != 5 {
		t.Errorf("input list modified: %+v", list)
	}
}

func TestMergeAnySequenceStaysSorted(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for round := 0; round < 50; round++ {
		var list []types.NormalizedMessage
		for i := 0; i < 30; i++ {
			list = Merge(list, msg(r.Int63n(20)))
		}
		if !sort.SliceIsSorted(list, func(i, j int) bool { return list[i].ID < list[j].ID }) {
			t.Fatalf("round %d: list not sorted: %+v", round, list)
		}
		for i := 1; i < len(list); i++ {
			if list[i].ID == list[i-1].ID {
				t.Fatalf("round %d: duplicate id %d", round, list[i].ID)
			}
		}
	}
}
