package hub

import "strings"

// destination is where the router sends an event: either a session room or a
// role room, optionally skipping the originating connection.
type destination struct {
	sessionID string
	role      Role
	exclude   string
}

func (d destination) toSession() bool { return d.sessionID != "" && d.role == "" }

// routeChat applies the role-asymmetric policy: agent messages go to the
// session room (minus the sender), everything else goes to the agents room.
// Widgets never see each other's traffic.
func routeChat(from, sessionID, senderID string) destination {
	if from == FromAgent {
		return destination{sessionID: sessionID, exclude: senderID}
	}
	return destination{role: RoleAgent, exclude: senderID}
}

// routeRelay picks the destination for an event pushed by the HTTP layer.
func routeRelay(sessionID, event string, payload any) destination {
	switch event {
	case EventChatMessage:
		from := ""
		if a, ok := payload.(Attributed); ok {
			from = normalizeFrom(a.Author(), "")
		}
		return routeChat(from, sessionID, "")
	case EventSessionCreated, EventSessionUpdated:
		return destination{role: RoleAgent}
	default:
		return destination{sessionID: sessionID}
	}
}

// normalizeFrom lower-cases the declared author and, when it is missing,
// derives it from the sender's role. Widgets speak as "user".
func normalizeFrom(from string, role Role) string {
	from = strings.ToLower(strings.TrimSpace(from))
	if from != "" {
		return from
	}
	switch role {
	case RoleAgent:
		return FromAgent
	case RoleBot:
		return FromBot
	case RoleSystem:
		return FromSystem
	default:
		return FromUser
	}
}
