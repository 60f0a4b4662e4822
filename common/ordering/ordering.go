// Package ordering maintains the per-room display sequence of a queue.
package ordering

import (
	"fmt"
	"sort"

	"github.com/lyzr/queueboard/common/models"
)

// Assignment is the new display_order of one patient
type Assignment struct {
	ID           int64
	DisplayOrder int
}

// Less is the rendering order within a room: procedure entries first,
// then display_order ascending, then id for rows that were never reordered.
func Less(a, b *models.Patient) bool {
	ap, bp := a.Status == models.StatusProcedure, b.Status == models.StatusProcedure
	if ap != bp {
		return ap
	}
	if a.DisplayOrder != b.DisplayOrder {
		return a.DisplayOrder < b.DisplayOrder
	}
	return a.ID < b.ID
}

// Sort orders patients of one room in place for rendering
func Sort(patients []*models.Patient) {
	sort.SliceStable(patients, func(i, j int) bool {
		return Less(patients[i], patients[j])
	})
}

// SortBySequence orders patients by display_order then id, ignoring status.
// This is the order reorder and compaction operate on.
func SortBySequence(patients []*models.Patient) {
	sort.SliceStable(patients, func(i, j int) bool {
		if patients[i].DisplayOrder != patients[j].DisplayOrder {
			return patients[i].DisplayOrder < patients[j].DisplayOrder
		}
		return patients[i].ID < patients[j].ID
	})
}

// GroupByRoom splits patients by room, each group in rendering order
func GroupByRoom(patients []*models.Patient) (rooms []string, groups map[string][]*models.Patient) {
	groups = make(map[string][]*models.Patient)
	for _, p := range patients {
		if _, ok := groups[p.Room]; !ok {
			rooms = append(rooms, p.Room)
		}
		groups[p.Room] = append(groups[p.Room], p)
	}
	sort.Strings(rooms)
	for _, r := range rooms {
		Sort(groups[r])
	}
	return rooms, groups
}

// Renumber assigns display_order = index+1 in list order
func Renumber(ids []int64) []Assignment {
	out := make([]Assignment, len(ids))
	for i, id := range ids {
		out[i] = Assignment{ID: id, DisplayOrder: i + 1}
	}
	return out
}

// Move returns ids with id relocated to toIndex. toIndex is clamped to the list.
func Move(ids []int64, id int64, toIndex int) ([]int64, error) {
	from := -1
	for i, v := range ids {
		if v == id {
			from = i
			break
		}
	}
	if from < 0 {
		return nil, fmt.Errorf("%w: patient %d is not in the list", models.ErrNotFound, id)
	}

	out := make([]int64, 0, len(ids))
	out = append(out, ids[:from]...)
	out = append(out, ids[from+1:]...)

	if toIndex < 0 {
		toIndex = 0
	}
	if toIndex > len(out) {
		toIndex = len(out)
	}
	out = append(out[:toIndex], append([]int64{id}, out[toIndex:]...)...)
	return out, nil
}

// Complete extends a requested order to the whole room. Listed ids come first in
// the given order; the rest of room keep their current relative order.
// room must already be sorted with SortBySequence.
func Complete(listed []int64, room []*models.Patient) ([]int64, error) {
	members := make(map[int64]bool, len(room))
	for _, p := range room {
		members[p.ID] = true
	}

	seen := make(map[int64]bool, len(listed))
	out := make([]int64, 0, len(room))
	for _, id := range listed {
		if seen[id] {
			return nil, fmt.Errorf("%w: patient %d listed twice", models.ErrValidation, id)
		}
		if !members[id] {
			return nil, fmt.Errorf("%w: patient %d is not in this room and date", models.ErrValidation, id)
		}
		seen[id] = true
		out = append(out, id)
	}
	for _, p := range room {
		if !seen[p.ID] {
			out = append(out, p.ID)
		}
	}
	return out, nil
}

// IsDense reports whether orders is exactly {1..N}
func IsDense(orders []int) bool {
	seen := make([]bool, len(orders)+1)
	for _, o := range orders {
		if o < 1 || o > len(orders) || seen[o] {
			return false
		}
		seen[o] = true
	}
	return true
}
