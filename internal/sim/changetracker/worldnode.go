package changetracker

// cellHistory is the tick ordered list of entries for one cell.
type cellHistory struct {
	entries []*Entry
}

func (h *cellHistory) empty() bool { return len(h.entries) == 0 }

func (h *cellHistory) last() *Entry {
	if len(h.entries) == 0 {
		return nil
	}
	return h.entries[len(h.entries)-1]
}

// expireBefore drops the prefix of entries created before olderThanTick and
// returns how many were removed.
func (h *cellHistory) expireBefore(olderThanTick int) int {
	k := 0
	for k < len(h.entries) && h.entries[k].Tick < olderThanTick {
		k++
	}
	if k == 0 {
		return 0
	}
	n := copy(h.entries, h.entries[k:])
	clear(h.entries[n:])
	h.entries = h.entries[:n]
	return k
}

// worldNode holds the history of one partition.
type worldNode struct {
	id       PartitionID
	blocks   *coordMap[*cellHistory]
	activity *ActivityIndex

	// size is the number of entries across all cells.
	size           int
	lastChangeTick int
}

func newWorldNode(id PartitionID, activityResolution int) *worldNode {
	return &worldNode{
		id:       id,
		blocks:   newCoordMap[*cellHistory](),
		activity: NewActivityIndex(activityResolution),
	}
}

func (n *worldNode) clear() {
	n.blocks.Clear()
	n.activity.Clear()
	n.size = 0
}
