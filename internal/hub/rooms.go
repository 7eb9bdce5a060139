package hub

// rooms holds the two kinds of delivery groups. A connection sits in exactly
// one role room for its lifetime and in at most one session room at a time.
type rooms struct {
	sessions map[string]map[string]*Connection // sessionID -> connID -> conn
	roles    map[Role]map[string]*Connection
}

func newRooms() *rooms {
	return &rooms{
		sessions: make(map[string]map[string]*Connection),
		roles:    make(map[Role]map[string]*Connection),
	}
}

func (r *rooms) addToRole(c *Connection) {
	members, ok := r.roles[c.Role]
	if !ok {
		members = make(map[string]*Connection)
		r.roles[c.Role] = members
	}
	members[c.ID] = c
}

func (r *rooms) removeFromRole(c *Connection) {
	members, ok := r.roles[c.Role]
	if !ok {
		return
	}
	delete(members, c.ID)
	if len(members) == 0 {
		delete(r.roles, c.Role)
	}
}

// join moves c into the session room and returns the session it left, if any.
// An empty sessionID is rejected with ok=false and nothing changes.
func (r *rooms) join(c *Connection, sessionID string) (previous string, ok bool) {
	if sessionID == "" {
		return "", false
	}
	if c.SessionID == sessionID {
		return "", true
	}
	if c.SessionID != "" {
		previous = c.SessionID
		r.leave(c, previous)
	}

	members, exists := r.sessions[sessionID]
	if !exists {
		members = make(map[string]*Connection)
		r.sessions[sessionID] = members
	}
	members[c.ID] = c
	c.SessionID = sessionID
	return previous, true
}

// leave removes c from the named session room. It reports whether c was a member.
func (r *rooms) leave(c *Connection, sessionID string) bool {
	members, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	if _, member := members[c.ID]; !member {
		return false
	}
	delete(members, c.ID)
	if len(members) == 0 {
		delete(r.sessions, sessionID)
	}
	if c.SessionID == sessionID {
		c.SessionID = ""
	}
	return true
}

func (r *rooms) sessionCount() int {
	return len(r.sessions)
}

// broadcastToSession delivers f to every member of the session room except
// exclude. It returns the number of connections that accepted the frame.
func (r *rooms) broadcastToSession(sessionID string, f Frame, exclude string) int {
	return deliver(r.sessions[sessionID], f, exclude, "")
}

// broadcastToSessionRole is broadcastToSession restricted to one role.
func (r *rooms) broadcastToSessionRole(sessionID string, role Role, f Frame) int {
	return deliver(r.sessions[sessionID], f, "", role)
}

// broadcastToRole delivers f to every connection of the given role except exclude.
func (r *rooms) broadcastToRole(role Role, f Frame, exclude string) int {
	return deliver(r.roles[role], f, exclude, "")
}

func deliver(members map[string]*Connection, f Frame, exclude string, only Role) int {
	sent := 0
	for id, c := range members {
		if exclude != "" && id == exclude {
			continue
		}
		if only != "" && c.Role != only {
			continue
		}
		if c.out != nil && c.out.Send(f) {
			sent++
		}
	}
	return sent
}
