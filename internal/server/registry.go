package server

import (
	"sync"

	"github.com/npezzotti/go-crudder/internal/stats"
	"go.uber.org/zap"
)

// Registry maps room keys (a user id for personal rooms, a conversation id
// for conversation rooms) to the sessions currently joined to them.
type Registry struct {
	log   *zap.SugaredLogger
	stats stats.StatsProvider

	mu      sync.RWMutex
	rooms   map[string]map[*Client]struct{}
	members map[*Client]map[string]struct{}
}

func NewRegistry(logger *zap.SugaredLogger, su stats.StatsProvider) *Registry {
	return &Registry{
		log:     logger,
		stats:   su,
		rooms:   make(map[string]map[*Client]struct{}),
		members: make(map[*Client]map[string]struct{}),
	}
}

// Join adds c to the room. Joining a room twice has no effect.
func (r *Registry) Join(key string, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[key]
	if !ok {
		room = make(map[*Client]struct{})
		r.rooms[key] = room
	}
	room[c] = struct{}{}

	keys, ok := r.members[c]
	if !ok {
		keys = make(map[string]struct{})
		r.members[c] = keys
	}
	keys[key] = struct{}{}
}

func (r *Registry) Leave(key string, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.leaveLocked(key, c)
}

func (r *Registry) leaveLocked(key string, c *Client) {
	if room, ok := r.rooms[key]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(r.rooms, key)
		}
	}

	if keys, ok := r.members[c]; ok {
		delete(keys, key)
		if len(keys) == 0 {
			delete(r.members, c)
		}
	}
}

// LeaveAll removes c from every room it belongs to.
func (r *Registry) LeaveAll(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key := range r.members[c] {
		r.leaveLocked(key, c)
	}
}

func (r *Registry) IsMember(key string, c *Client) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.rooms[key][c]
	return ok
}

// RoomCount returns the number of rooms c belongs to.
func (r *Registry) RoomCount(c *Client) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.members[c])
}

func (r *Registry) MemberCount(key string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.rooms[key])
}

// Broadcast queues msg once for every session joined to any of the rooms
// and returns the number of sessions it was queued for. A session whose
// queue is full or that is shutting down is removed from all rooms and
// stopped; that is a delivery miss, not an error.
func (r *Registry) Broadcast(msg *ServerMessage, keys ...string) int {
	r.mu.RLock()
	targets := make(map[*Client]struct{})
	for _, key := range keys {
		for c := range r.rooms[key] {
			targets[c] = struct{}{}
		}
	}
	r.mu.RUnlock()

	delivered := 0
	for c := range targets {
		if c.queueMessage(msg) {
			delivered++
			continue
		}

		r.log.Infow("pruning unresponsive session", "session_id", c.id)
		r.stats.Incr(stats.NumDeliveryMisses)
		r.LeaveAll(c)
		c.stopClient()
	}

	return delivered
}
