package engine

import "time"

// Phase is the startup stage of a node.
type Phase int

const (
    PhaseWarmup Phase = iota
    PhasePriming
    PhaseReady
)

func (p Phase) String() string {
    switch p {
    case PhaseWarmup:
        return "warmup"
    case PhasePriming:
        return "priming"
    default:
        return "ready"
    }
}

// maxStartupCycles bounds how often warm-up and priming repeat when a node
// sees nobody else.
const maxStartupCycles = 2

// Sequencer holds claim attempts back until the node had a chance to hear
// its peers. Each stage ends at a deadline; Step is a pure function of the
// current time and whether a peer was seen.
type Sequencer struct {
    warmup   time.Duration
    priming  time.Duration
    phase    Phase
    cycle    int
    deadline time.Time
}

// NewSequencer starts the first warm-up at start.
func NewSequencer(start time.Time, warmup, priming time.Duration) *Sequencer {
    return &Sequencer{warmup: warmup, priming: priming, cycle: 1, deadline: start.Add(warmup)}
}

func (s *Sequencer) Phase() Phase        { return s.phase }
func (s *Sequencer) Cycle() int          { return s.cycle }
func (s *Sequencer) Deadline() time.Time { return s.deadline }
func (s *Sequencer) Ready() bool         { return s.phase == PhaseReady }

// Step advances through every stage whose deadline has passed at now and
// reports whether the phase changed.
func (s *Sequencer) Step(now time.Time, peerSeen bool) bool {
    start := s.phase
    for s.phase != PhaseReady && !now.Before(s.deadline) {
        switch s.phase {
        case PhaseWarmup:
            s.phase = PhasePriming
            s.deadline = s.deadline.Add(s.priming)
        case PhasePriming:
            if !peerSeen && s.cycle < maxStartupCycles {
                s.cycle++
                s.phase = PhaseWarmup
                s.deadline = s.deadline.Add(s.warmup)
                continue
            }
            s.phase = PhaseReady
        }
    }
    return s.phase != start
}
