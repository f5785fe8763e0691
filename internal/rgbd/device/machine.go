// Package device tracks which stream the receiver is attached to (none, a
// live sensor, or a replayed recording) and which camera pose applies to
// the frames it commits.
package device

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/banshee-data/depth.stream/internal/monitoring"
	"github.com/banshee-data/depth.stream/internal/rgbd/wire"
)

// State of the attached device.
type State int

const (
	Idle State = iota
	Live
	Replaying
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Live:
		return "live"
	case Replaying:
		return "replaying"
	default:
		return "unknown"
	}
}

// Clearer is implemented by the body and audio queues.
type Clearer interface {
	Clear()
}

// Machine is the device state machine. Apply is called from the receive
// goroutine; MarkIdle from the idle watchdog; the getters from anywhere.
type Machine struct {
	mu       sync.Mutex
	state    State
	cfg      *wire.DeviceConfig
	session  uuid.UUID
	live     *LivePose
	active   PoseSource
	clearers []Clearer
	events   *EventQueue
	log      *logrus.Entry
}

// NewMachine creates an idle machine. live may be nil, in which case an
// identity LivePose is used. Each clearer is emptied on entering Live or
// Replaying.
func NewMachine(live *LivePose, events *EventQueue, clearers ...Clearer) *Machine {
	if live == nil {
		live = NewLivePose()
	}
	if events == nil {
		events = NewEventQueue()
	}
	return &Machine{
		state:    Idle,
		live:     live,
		active:   live,
		clearers: clearers,
		events:   events,
		log:      monitoring.Component("device"),
	}
}

// Apply records cfg and performs the transition it implies.
func (m *Machine) Apply(cfg *wire.DeviceConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.state
	m.cfg = cfg

	if cfg.IsLive() {
		if from == Live {
			return
		}
		m.enter(Live, m.live)
		kind := StateChanged
		if from == Replaying {
			kind = ReplayStopped
		}
		m.events.Push(Event{Kind: kind, From: from, To: Live, Config: cfg})
		return
	}

	rec := NewRecordedPose(cfg.Extrinsics)
	if from == Replaying {
		// New extrinsics for the running replay; no clear.
		m.active = rec
		m.events.Push(Event{Kind: ReplayStarted, From: from, To: Replaying, Config: cfg})
		return
	}
	m.enter(Replaying, rec)
	m.events.Push(Event{Kind: ReplayStarted, From: from, To: Replaying, Config: cfg})
}

// enter must be called with m.mu held.
func (m *Machine) enter(to State, src PoseSource) {
	for _, c := range m.clearers {
		c.Clear()
	}
	m.events.Push(Event{Kind: ClearBodies, From: m.state, To: to})
	m.log.WithFields(logrus.Fields{"from": m.state, "to": to}).Info("device state change")
	m.state = to
	m.active = src
	m.session = uuid.New()
}

// MarkIdle returns the machine to Idle. It reports whether a transition
// happened.
func (m *Machine) MarkIdle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Idle {
		return false
	}
	from := m.state
	m.log.WithFields(logrus.Fields{"from": from, "to": Idle}).Info("device state change")
	m.state = Idle
	m.active = m.live
	m.session = uuid.Nil
	m.events.Push(Event{Kind: StateChanged, From: from, To: Idle})
	return true
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Config returns the last applied configuration, or nil.
func (m *Machine) Config() *wire.DeviceConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// Session identifies the current Live or Replaying period. It is uuid.Nil
// while idle.
func (m *Machine) Session() uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// ActivePose returns the pose from the current source.
func (m *Machine) ActivePose() Pose {
	m.mu.Lock()
	src := m.active
	m.mu.Unlock()
	return src.Pose()
}

func (m *Machine) LivePose() *LivePose { return m.live }

func (m *Machine) Events() *EventQueue { return m.events }
