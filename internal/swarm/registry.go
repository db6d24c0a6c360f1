package swarm

// registry is the entity registry. Callers hold Store.mu.
type registry struct {
	order  []string
	agents map[string]*AgentRecord
}

func newRegistry() registry {
	return registry{agents: make(map[string]*AgentRecord)}
}

func (r *registry) add(rec AgentRecord) bool {
	if _, ok := r.agents[rec.ID]; ok {
		return false
	}
	r.agents[rec.ID] = &rec
	r.order = append(r.order, rec.ID)
	return true
}

func (r *registry) get(id string) (*AgentRecord, bool) {
	a, ok := r.agents[id]
	return a, ok
}

func (r *registry) list() []AgentRecord {
	out := make([]AgentRecord, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.agents[id])
	}
	return out
}
