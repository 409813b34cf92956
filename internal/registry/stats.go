package registry

import (
	"sync"
	"time"

	"github.com/eclesh/welford"
)

// Frames represents running statistics on frames passed in one direction
// over a connection.
type Frames struct {
	mu   sync.Mutex
	last time.Time
	size *welford.Stats
	ns   *welford.Stats
}

// Stats represents traffic statistics for a connection.
type Stats struct {
	ConnectedAt time.Time
	Tx          *Frames
	Rx          *Frames
}

// NewStats returns a pointer to a new initialised Stats
func NewStats() *Stats {
	return &Stats{
		ConnectedAt: time.Now(),
		Tx:          &Frames{size: welford.New(), ns: welford.New()},
		Rx:          &Frames{size: welford.New(), ns: welford.New()},
	}
}

// Add records one frame of the given size, tracking size and inter-frame
// interval distributions.
func (f *Frames) Add(size int, connectedAt time.Time) {

	f.mu.Lock()
	defer f.mu.Unlock()

	t := time.Now()
	if f.ns.Count() > 0 {
		f.ns.Add(float64(t.UnixNano() - f.last.UnixNano()))
	} else {
		f.ns.Add(float64(t.UnixNano() - connectedAt.UnixNano()))
	}
	f.last = t
	f.size.Add(float64(size))
}

// ReportStats represents one direction of a connection's traffic in a report
type ReportStats struct {
	Last string  `json:"last"` // duration since last frame, human readable
	Size float64 `json:"size"` // mean frame size in bytes
	Fps  float64 `json:"fps"`  // mean frames per second
}

// Report represents information about one connection for the status API
type Report struct {
	ConnectionID string      `json:"connection_id"`
	UserID       string      `json:"user_id"`
	Rooms        []string    `json:"rooms"`
	Connected    string      `json:"connected"`
	Tx           ReportStats `json:"tx"`
	Rx           ReportStats `json:"rx"`
}

func (f *Frames) report() ReportStats {

	f.mu.Lock()
	defer f.mu.Unlock()

	rs := ReportStats{Last: "Never"}

	if f.size.Count() > 0 {
		rs.Last = time.Since(f.last).String()
		rs.Size = f.size.Mean()
		if mean := f.ns.Mean(); mean > 0 {
			rs.Fps = 1e9 / mean
		}
	}

	return rs
}

// GetReports returns a report on every registered connection, for the
// status API.
func (r *Registry) GetReports() []Report {

	conns := r.All()

	reports := make([]Report, 0, len(conns))

	for _, c := range conns {
		reports = append(reports, Report{
			ConnectionID: c.ID,
			UserID:       c.UserID,
			Rooms:        r.RoomsOf(c.ID),
			Connected:    c.stats.ConnectedAt.String(),
			Tx:           c.stats.Tx.report(),
			Rx:           c.stats.Rx.report(),
		})
	}

	return reports
}
