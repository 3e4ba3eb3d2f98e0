package response

import (
	"sync"
	"time"

	"github.com/gyaneshwarpardhi/sentinel/internal/event"
)

// correlationSource marks synthetic pattern events so they are not fed
// back into the windows they came from.
const correlationSource = "correlation"

// pattern is a multi-event signal raised from one user's sliding window.
type pattern struct {
	UserID   string
	Name     string
	EventIDs []string
	Count    int
	First    time.Time
	Last     time.Time
	MaxRisk  float64
}

// correlator keeps a short per-user sliding window of recent events so
// independent low-severity signals can escalate into one alert.
type correlator struct {
	mu        sync.Mutex
	windows   map[string][]*event.FraudEvent
	window    time.Duration
	minEvents int
}

func newCorrelator(window time.Duration, minEvents int) *correlator {
	return &correlator{
		windows:   make(map[string][]*event.FraudEvent),
		window:    window,
		minEvents: minEvents,
	}
}

// Add appends the event to its user's window, dropping entries that have
// aged out.
func (c *correlator) Add(ev *event.FraudEvent) {
	if ev.UserID == "" || ev.Source == correlationSource {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.prune(c.windows[ev.UserID], ev.Timestamp)
	c.windows[ev.UserID] = append(kept, ev)
}

// Sweep inspects every window and raises a pattern for each user whose
// window holds at least minEvents. A raised window is cleared so the same
// burst is reported once.
func (c *correlator) Sweep(now time.Time) []pattern {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []pattern
	for userID, evs := range c.windows {
		evs = c.prune(evs, now)
		if len(evs) == 0 {
			delete(c.windows, userID)
			continue
		}
		if len(evs) < c.minEvents {
			c.windows[userID] = evs
			continue
		}
		p := pattern{
			UserID: userID,
			Name:   "high_velocity",
			Count:  len(evs),
			First:  evs[0].Timestamp,
			Last:   evs[len(evs)-1].Timestamp,
		}
		for _, ev := range evs {
			p.EventIDs = append(p.EventIDs, ev.ID)
			if ev.RiskScore > p.MaxRisk {
				p.MaxRisk = ev.RiskScore
			}
		}
		out = append(out, p)
		delete(c.windows, userID)
	}
	return out
}

func (c *correlator) prune(evs []*event.FraudEvent, now time.Time) []*event.FraudEvent {
	cutoff := now.Add(-c.window)
	kept := evs[:0]
	for _, ev := range evs {
		if ev.Timestamp.After(cutoff) {
			kept = append(kept, ev)
		}
	}
	return kept
}
