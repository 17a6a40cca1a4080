package game

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Regeneration rates applied by Advance, in points per second.
const (
	hpRegenPerSecond = 1.0
	mpRegenPerSecond = 2.0
)

// regenCarry banks sub-point regeneration between ticks, per stat. At 30
// ticks per second a single tick earns well under one point, so without the
// carry nothing would ever regenerate.
type regenCarry struct {
	hp float64
	mp float64
}

// State is the concurrency-safe store of player records and per-channel
// membership. Connection goroutines and the update loop coordinate only
// through its operations; no lock is ever held across I/O.
//
// Invariant: a player UID appears in at most one channel's membership set.
type State struct {
	mu          sync.RWMutex
	players     map[string]*Player
	channelSets map[int64]map[string]bool

	carries map[string]*regenCarry
}

// NewState creates an empty world state.
func NewState() *State {
	return &State{
		players:     make(map[string]*Player),
		channelSets: make(map[int64]map[string]bool),
		carries:     make(map[string]*regenCarry),
	}
}

// AddPlayer registers a player record. The player joins channel membership
// tracking only once MoveToChannel is called.
//
// Postcondition: returns an error if the UID is already present.
func (s *State) AddPlayer(p *Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.players[p.UID]; exists {
		return fmt.Errorf("player %q already in world", p.UID)
	}
	s.players[p.UID] = p
	if p.ChannelID != 0 {
		s.addToChannelLocked(p.UID, p.ChannelID)
	}
	return nil
}

// RemovePlayer deletes the player record and scrubs the UID from any channel
// membership set.
func (s *State) RemovePlayer(uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.players[uid]
	if !exists {
		return fmt.Errorf("player %q not in world", uid)
	}
	s.removeFromChannelLocked(uid, p.ChannelID)
	delete(s.players, uid)
	delete(s.carries, uid)
	return nil
}

// UpdatePlayer mutates the player record for uid under the state lock. fn
// must not block or call back into State.
func (s *State) UpdatePlayer(uid string, fn func(*Player)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.players[uid]
	if !exists {
		return fmt.Errorf("player %q not in world", uid)
	}
	fn(p)
	return nil
}

// MoveToChannel atomically removes the player from its prior channel's
// membership set and adds it to the new one. The player is never visible in
// two sets, even momentarily.
//
// Postcondition: returns the prior channel id (0 if none).
func (s *State) MoveToChannel(uid string, channelID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.players[uid]
	if !exists {
		return 0, fmt.Errorf("player %q not in world", uid)
	}

	old := p.ChannelID
	s.removeFromChannelLocked(uid, old)
	p.ChannelID = channelID
	s.addToChannelLocked(uid, channelID)
	return old, nil
}

// GetPlayer returns the player record for uid.
func (s *State) GetPlayer(uid string) (*Player, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.players[uid]
	return p, ok
}

// PlayersInChannel returns the UIDs currently in the given channel's
// membership set.
func (s *State) PlayersInChannel(channelID int64) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set, ok := s.channelSets[channelID]
	if !ok {
		return nil
	}
	uids := make([]string, 0, len(set))
	for uid := range set {
		uids = append(uids, uid)
	}
	return uids
}

// PlayerCount returns the number of players in the world.
func (s *State) PlayerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.players)
}

// Advance applies one tick of per-player upkeep: HP/MP regeneration toward
// the maxima and last-update bookkeeping. dt is the elapsed time since the
// previous tick.
func (s *State) Advance(dt time.Duration) {
	now := time.Now()
	seconds := dt.Seconds()

	s.mu.Lock()
	defer s.mu.Unlock()

	for uid, p := range s.players {
		c := s.carries[uid]
		if c == nil {
			c = &regenCarry{}
			s.carries[uid] = c
		}
		p.HP = regenerate(p.HP, p.MaxHP, seconds*hpRegenPerSecond, &c.hp)
		p.MP = regenerate(p.MP, p.MaxMP, seconds*mpRegenPerSecond, &c.mp)
		p.LastUpdate = now
	}
}

// regenerate applies earned points to cur, banking the sub-point remainder
// in carry so progress is never lost to flooring.
func regenerate(cur, max int, earned float64, carry *float64) int {
	*carry += earned
	points := int(math.Floor(*carry))
	*carry -= float64(points)
	if cur >= max {
		return cur
	}
	return min(cur+points, max)
}

func (s *State) addToChannelLocked(uid string, channelID int64) {
	if channelID == 0 {
		return
	}
	if s.channelSets[channelID] == nil {
		s.channelSets[channelID] = make(map[string]bool)
	}
	s.channelSets[channelID][uid] = true
}

func (s *State) removeFromChannelLocked(uid string, channelID int64) {
	if channelID == 0 {
		return
	}
	if set, ok := s.channelSets[channelID]; ok {
		delete(set, uid)
		if len(set) == 0 {
			delete(s.channelSets, channelID)
		}
	}
}
