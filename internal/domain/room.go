package domain

// Participant identifies one side of a Room.
type Participant struct {
	ID   string `json:"id"`
	Role string `json:"role"`
	Name string `json:"name,omitempty"`
}

// Message is one immutable chat message. Order is arrival order; the client
// never resequences or deduplicates.
type Message struct {
	ID         string `json:"id,omitempty"`
	SenderID   string `json:"senderId"`
	SenderRole string `json:"senderRole,omitempty"`
	Content    string `json:"content"`
	CreatedAt  int64  `json:"createdAt,omitempty"`
}

// Room is a conversation between exactly two roles. It is materialized
// client-side from the relay's rooms/roomJoined events.
type Room struct {
	ID           string        `json:"id"`
	Participants []Participant `json:"participants"`
	Messages     []Message     `json:"messages,omitempty"`
}

// Counterpart returns the participant whose role differs from localRole.
// Both messaging and call signaling resolve the remote party through this
// single lookup.
func (r *Room) Counterpart(localRole string) (Participant, bool) {
	if r == nil {
		return Participant{}, false
	}
	for _, p := range r.Participants {
		if p.Role != localRole {
			return p, true
		}
	}
	return Participant{}, false
}
