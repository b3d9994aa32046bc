package conversation

import "github.com/quickmoney/lendchat/internal/models"

// identitySet answers "is this message already in the view". Messages are
// matched on server ID or client ID. The content tuple is consulted only
// against messages that carried neither, so two distinct identified
// messages with the same text and timestamp are never merged.
type identitySet struct {
	ids     map[string]struct{}
	clients map[string]struct{}
	bare    map[string]struct{}
}

func newIdentitySet() identitySet {
	return identitySet{
		ids:     make(map[string]struct{}),
		clients: make(map[string]struct{}),
		bare:    make(map[string]struct{}),
	}
}

func (s identitySet) add(m models.Message) {
	if m.ID != "" {
		s.ids[m.ID] = struct{}{}
	}
	if m.ClientID != "" {
		s.clients[m.ClientID] = struct{}{}
	}
	if m.ID == "" && m.ClientID == "" {
		s.bare[m.ContentKey()] = struct{}{}
	}
}

func (s identitySet) has(m models.Message) bool {
	if _, ok := s.ids[m.ID]; ok && m.ID != "" {
		return true
	}
	if _, ok := s.clients[m.ClientID]; ok && m.ClientID != "" {
		return true
	}
	_, ok := s.bare[m.ContentKey()]
	return ok
}
