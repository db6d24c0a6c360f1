package swarm

import "sort"

// pool is the strike-unit pool, one slot per strike agent kept sorted by
// agent id so idle selection is deterministic. Callers hold Store.mu.
type pool struct {
	order []string
	slots map[string]*StrikeUnitSlot
}

func newPool() pool {
	return pool{slots: make(map[string]*StrikeUnitSlot)}
}

func (p *pool) add(agentID string) {
	if _, ok := p.slots[agentID]; ok {
		return
	}
	p.slots[agentID] = &StrikeUnitSlot{AgentID: agentID, Status: SlotIdle}
	p.order = append(p.order, agentID)
	sort.Strings(p.order)
}

func (p *pool) get(id string) (*StrikeUnitSlot, bool) {
	s, ok := p.slots[id]
	return s, ok
}

// firstIdle returns the idle slot with the lowest agent id, ignoring skip.
func (p *pool) firstIdle(skip string) (*StrikeUnitSlot, bool) {
	for _, id := range p.order {
		s := p.slots[id]
		if s.Status == SlotIdle && id != skip {
			return s, true
		}
	}
	return nil, false
}

func (p *pool) holderOf(threatID uint64) (*StrikeUnitSlot, bool) {
	for _, id := range p.order {
		s := p.slots[id]
		if s.Status != SlotIdle && s.AssignedThreatID == threatID {
			return s, true
		}
	}
	return nil, false
}

func (p *pool) list() []StrikeUnitSlot {
	out := make([]StrikeUnitSlot, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, *p.slots[id])
	}
	return out
}
