package hub

// presence counts, per session, the distinct agent connections joined to it.
type presence struct {
	bySession map[string]map[string]struct{}
	byAgent   map[string]string // agent connID -> sessionID
}

func newPresence() *presence {
	return &presence{
		bySession: make(map[string]map[string]struct{}),
		byAgent:   make(map[string]string),
	}
}

// join places agentID in sessionID's set. The returned updates list the
// session the agent moved away from (if any) before the session it joined.
func (p *presence) join(sessionID, agentID string) []AgentsOnline {
	updates := make([]AgentsOnline, 0, 2)
	if prior, ok := p.byAgent[agentID]; ok && prior != sessionID {
		if update, removed := p.leave(agentID); removed {
			updates = append(updates, update)
		}
	}

	set, ok := p.bySession[sessionID]
	if !ok {
		set = make(map[string]struct{})
		p.bySession[sessionID] = set
	}
	set[agentID] = struct{}{}
	p.byAgent[agentID] = sessionID

	return append(updates, AgentsOnline{SessionID: sessionID, Count: len(set)})
}

// leave drops agentID from whichever set holds it. Empty sets are deleted.
func (p *presence) leave(agentID string) (AgentsOnline, bool) {
	sessionID, ok := p.byAgent[agentID]
	if !ok {
		return AgentsOnline{}, false
	}
	delete(p.byAgent, agentID)

	set := p.bySession[sessionID]
	delete(set, agentID)
	count := len(set)
	if count == 0 {
		delete(p.bySession, sessionID)
	}
	return AgentsOnline{SessionID: sessionID, Count: count}, true
}

func (p *presence) count(sessionID string) int {
	return len(p.bySession[sessionID])
}

func (p *presence) snapshot() map[string]int {
	out := make(map[string]int, len(p.bySession))
	for sessionID, set := range p.bySession {
		out[sessionID] = len(set)
	}
	return out
}
