// Package ledger implements the log ledger (component A): an
// append-only per-group/stream event log with timestamp ordering,
// byte accounting, and prefix queries.
//
// The storage shape — a namespace map guarded by one sync.RWMutex,
// with stats recomputed under the same lock — gives one owner per
// aggregate: concurrent readers welcome, writers serialized.
package ledger

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/conorvenus/microstack/internal/apierror"
)

// Event is a single log event within a stream.
type Event struct {
	Timestamp     time.Time
	IngestionTime time.Time
	Message       string
}

// Stream holds the events for one (group, stream) pair.
type Stream struct {
	Name               string
	CreationTime       time.Time
	StoredBytes        int64
	LastIngestionTime  *time.Time
	events             []Event
	seq                int64 // insertion counter; the re-sort does not read it (sort.SliceStable alone keeps ties in insertion order)
}

// Group holds the streams for one log group.
type Group struct {
	Name          string
	CreationTime  time.Time
	RetentionDays *int
	Streams       map[string]*Stream
}

// StoredBytes returns the sum of all stream byte counts in the group.
func (g *Group) StoredBytes() int64 {
	var total int64
	for _, s := range g.Streams {
		total += s.StoredBytes
	}
	return total
}

// Ledger is the single owner of all log groups.
type Ledger struct {
	mu     sync.RWMutex
	groups map[string]*Group
}

// New creates an empty log ledger.
func New() *Ledger {
	return &Ledger{groups: make(map[string]*Group)}
}

// CreateGroup registers an empty group. Fails with already-exists if
// the name is taken.
func (l *Ledger) CreateGroup(name string, retentionDays *int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.groups[name]; ok {
		return apierror.New(apierror.AlreadyExists, "log group %q already exists", name)
	}
	l.groups[name] = &Group{
		Name:          name,
		CreationTime:  time.Now().UTC(),
		RetentionDays: retentionDays,
		Streams:       make(map[string]*Stream),
	}
	return nil
}

// DeleteGroup removes a group. Fails with not-found if absent.
func (l *Ledger) DeleteGroup(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.groups[name]; !ok {
		return apierror.New(apierror.NotFound, "log group %q does not exist", name)
	}
	delete(l.groups, name)
	return nil
}

// AppendEvent appends an event to (group, stream), auto-creating both
// if missing. timestamp may be nil, meaning "now". ingestionTime is
// always now. The stream's events are stable-resorted by timestamp
// after insert, and storedBytes is recomputed.
func (l *Ledger) AppendEvent(group, stream, message string, timestamp *time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()

	g, ok := l.groups[group]
	if !ok {
		g = &Group{Name: group, CreationTime: now, Streams: make(map[string]*Stream)}
		l.groups[group] = g
	}

	s, ok := g.Streams[stream]
	if !ok {
		s = &Stream{Name: stream, CreationTime: now}
		g.Streams[stream] = s
	}

	ts := now
	if timestamp != nil {
		ts = *timestamp
	}

	s.seq++
	s.events = append(s.events, Event{
		Timestamp:     ts,
		IngestionTime: now,
		Message:       message,
	})

	// Stable sort by timestamp; insertion order is the tie-break, and
	// sort.SliceStable preserves the relative order of the events we
	// just appended in sequence, which is what gives ties a stable
	// resolution across repeated appends.
	sort.SliceStable(s.events, func(i, j int) bool {
		return s.events[i].Timestamp.Before(s.events[j].Timestamp)
	})

	var bytes int64
	for _, e := range s.events {
		bytes += int64(len(e.Message))
	}
	s.StoredBytes = bytes
	s.LastIngestionTime = &now

	return nil
}

// DescribeGroups returns groups whose name starts with prefix, sorted
// lexicographically by name. An empty prefix matches all groups.
func (l *Ledger) DescribeGroups(prefix string) []*Group {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*Group, 0, len(l.groups))
	for name, g := range l.groups {
		if strings.HasPrefix(name, prefix) {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DescribeStreams returns the streams of group whose name starts with
// prefix, sorted lexicographically by name. Fails with not-found if
// the group is absent.
func (l *Ledger) DescribeStreams(group, prefix string) ([]*Stream, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	g, ok := l.groups[group]
	if !ok {
		return nil, apierror.New(apierror.NotFound, "log group %q does not exist", group)
	}

	out := make([]*Stream, 0, len(g.Streams))
	for name, s := range g.Streams {
		if strings.HasPrefix(name, prefix) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// GetEvents returns a fresh copy of the stream's events, sorted
// ascending by timestamp. Fails with not-found if the group or stream
// is absent.
func (l *Ledger) GetEvents(group, stream string) ([]Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	g, ok := l.groups[group]
	if !ok {
		return nil, apierror.New(apierror.NotFound, "log group %q does not exist", group)
	}
	s, ok := g.Streams[stream]
	if !ok {
		return nil, apierror.New(apierror.NotFound, "log stream %q does not exist", stream)
	}

	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out, nil
}
