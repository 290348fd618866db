package notify

import "sync"

// MembershipProjector maintains user -> set<chat> in memory, built from
// join/leave events, so new-message fan-out reaches exactly the current
// member set without a database round trip per event.
type MembershipProjector struct {
	mu     sync.RWMutex
	byChat map[int64]map[int64]struct{}
	byUser map[int64]map[int64]struct{}
}

// NewMembershipProjector creates an empty projector. Callers typically seed
// it from a full membership snapshot on startup before consuming live
// join/leave events.
func NewMembershipProjector() *MembershipProjector {
	return &MembershipProjector{
		byChat: make(map[int64]map[int64]struct{}),
		byUser: make(map[int64]map[int64]struct{}),
	}
}

// Join records that userID is a member of chatID.
func (p *MembershipProjector) Join(chatID, userID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.byChat[chatID] == nil {
		p.byChat[chatID] = make(map[int64]struct{})
	}
	p.byChat[chatID][userID] = struct{}{}

	if p.byUser[userID] == nil {
		p.byUser[userID] = make(map[int64]struct{})
	}
	p.byUser[userID][chatID] = struct{}{}
}

// Leave records that userID is no longer a member of chatID.
func (p *MembershipProjector) Leave(chatID, userID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if members, ok := p.byChat[chatID]; ok {
		delete(members, userID)
		if len(members) == 0 {
			delete(p.byChat, chatID)
		}
	}
	if chats, ok := p.byUser[userID]; ok {
		delete(chats, chatID)
		if len(chats) == 0 {
			delete(p.byUser, userID)
		}
	}
}

// Members returns the current member ids of chatID.
func (p *MembershipProjector) Members(chatID int64) []int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	members := p.byChat[chatID]
	ids := make([]int64, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	return ids
}

// MembersExcept returns the current member ids of chatID excluding exclude,
// used for typing and read-receipt fan-out which never echo to their
// originator.
func (p *MembershipProjector) MembersExcept(chatID, exclude int64) []int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	members := p.byChat[chatID]
	ids := make([]int64, 0, len(members))
	for id := range members {
		if id != exclude {
			ids = append(ids, id)
		}
	}
	return ids
}

// SharesChatWith reports whether userID and other currently share any chat,
// used to scope presence broadcasts.
func (p *MembershipProjector) SharesChatWith(userID, other int64) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	mine := p.byUser[userID]
	theirs := p.byUser[other]
	if len(mine) == 0 || len(theirs) == 0 {
		return false
	}
	for chatID := range mine {
		if _, ok := theirs[chatID]; ok {
			return true
		}
	}
	return false
}

// UsersSharingChatsWith returns every user id that currently shares at least
// one chat with userID.
func (p *MembershipProjector) UsersSharingChatsWith(userID int64) []int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	seen := make(map[int64]struct{})
	for chatID := range p.byUser[userID] {
		for member := range p.byChat[chatID] {
			if member != userID {
				seen[member] = struct{}{}
			}
		}
	}
	ids := make([]int64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	return ids
}
