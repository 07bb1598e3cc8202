package bridge

import (
	"sync"

	"github.com/pwurbs/lights2mqtt/internal/lineproto"
)

// DefaultRecallBrightness is the level a dimmable device turns on at before
// any brightness has been seen.
const DefaultRecallBrightness = 70

// dimLevel is the cached brightness of one dimmable device.
type dimLevel struct {
	// current is the last published level; 0 while off.
	current int
	// recall is the last non-zero level, restored by an "on" command.
	recall int
}

// State is the brightness cache and discovery registry shared by the reader
// loop and the MQTT dispatcher. One mutex guards both so every
// check-then-act sequence is a single atomic step.
type State struct {
	mu        sync.Mutex
	levels    map[string]*dimLevel
	announced map[string]struct{}
}

// NewState seeds the cache for the given dimmable device ids. Every device
// starts off with the given recall level.
func NewState(dimmable []string, recall int) *State {
	s := &State{
		levels:    make(map[string]*dimLevel, len(dimmable)),
		announced: make(map[string]struct{}),
	}
	recall = lineproto.Clamp(recall)
	for _, id := range dimmable {
		s.levels[id] = &dimLevel{recall: recall}
	}
	return s
}

// Announce runs publish for id unless id has already been announced, and
// records the announcement only when publish succeeds. It reports whether
// this call announced the device. publish runs under the state lock.
func (s *State) Announce(id string, publish func() error) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, done := s.announced[id]; done {
		return false, nil
	}
	if err := publish(); err != nil {
		return false, err
	}
	s.announced[id] = struct{}{}
	return true, nil
}

// Announced reports whether id has been announced.
func (s *State) Announced(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.announced[id]
	return ok
}

// Observe records a state reported by the controller and returns the level
// to publish: the reported brightness while on, otherwise 0.
func (s *State) Observe(id string, on bool, brightness int) int {
	level := 0
	if on {
		level = lineproto.Clamp(brightness)
	}
	s.set(id, level)
	return level
}

// Request records a brightness commanded over MQTT and returns the clamped
// value.
func (s *State) Request(id string, brightness int) int {
	level := lineproto.Clamp(brightness)
	s.set(id, level)
	return level
}

func (s *State) set(id string, level int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.levels[id]
	if l == nil {
		l = &dimLevel{}
		s.levels[id] = l
	}
	l.current = level
	if level > 0 {
		l.recall = level
	}
}

// Recall returns the level an "on" command should restore, falling back to
// full brightness when nothing non-zero has been seen.
func (s *State) Recall(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l := s.levels[id]; l != nil && l.recall > 0 {
		return l.recall
	}
	return lineproto.MaxBrightness
}

// Level returns the cached current and recall levels for id.
func (s *State) Level(id string) (current, recall int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.levels[id]
	if l == nil {
		return 0, 0, false
	}
	return l.current, l.recall, true
}
