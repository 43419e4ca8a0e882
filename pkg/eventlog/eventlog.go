// Package eventlog keeps a JSON file of detected incidents for a retention
// period, with an optional JPEG snapshot per incident.
package eventlog

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/RafhaelMaglunob/pistream-cloud/pkg/camera"
	"github.com/RafhaelMaglunob/pistream-cloud/pkg/cell"
	"github.com/RafhaelMaglunob/pistream-cloud/pkg/vision"
)

type Incident struct {
	ID         string             `json:"id"`
	Timestamp  time.Time          `json:"timestamp"`
	Zone       vision.Zone        `json:"zone"`
	Detections []vision.Detection `json:"detections"`
	Snapshot   string             `json:"snapshot,omitempty"` // file name under the snapshot dir
}

// Log is a file-backed incident list.
type Log struct {
	Retention time.Duration
	// Frames, when set, is read to store a snapshot with each incident.
	Frames *cell.Cell[*camera.Frame]

	mu      sync.Mutex
	path    string
	snapDir string
	now     func() time.Time
}

// New stores incidents in dataDir/incidents.json and snapshots in
// dataDir/snapshots.
func New(dataDir string, retention time.Duration) *Log {
	return &Log{
		Retention: retention,
		path:      filepath.Join(dataDir, "incidents.json"),
		snapDir:   filepath.Join(dataDir, "snapshots"),
		now:       time.Now,
	}
}

// SnapshotDir is where incident snapshots are written.
func (l *Log) SnapshotDir() string { return l.snapDir }

// OnIncident records dets as a new incident. Its signature matches the
// detection worker's incident hook.
func (l *Log) OnIncident(ctx context.Context, dets []vision.Detection) {
	inc := Incident{
		ID:         uuid.NewString(),
		Timestamp:  l.now(),
		Detections: dets,
	}
	if len(dets) > 0 {
		inc.Zone = dets[0].Zone
	}
	if l.Frames != nil {
		if f, ok := l.Frames.Get(); ok && f != nil {
			name := inc.ID + ".jpg"
			if err := l.writeSnapshot(name, f.Data); err != nil {
				slog.Error("Failed to save incident snapshot", "error", err)
			} else {
				inc.Snapshot = name
			}
		}
	}
	if err := l.Record(inc); err != nil {
		slog.Error("Error recording incident", "error", err)
	}
}

func (l *Log) writeSnapshot(name string, data []byte) error {
	if err := os.MkdirAll(l.snapDir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(l.snapDir, name), data, 0644)
}

// Record appends inc, drops expired incidents and saves the file.
func (l *Log) Record(inc Incident) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	items, err := l.read()
	if err != nil {
		return err
	}
	items = append(items, inc)
	return l.write(l.keepRecent(items))
}

// List returns the stored incidents, oldest first.
func (l *Log) List() ([]Incident, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.read()
}

// Prune removes expired incidents and their snapshots. It returns how many
// were removed.
func (l *Log) Prune() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	items, err := l.read()
	if err != nil {
		return 0, err
	}
	recent := l.keepRecent(items)
	removed := len(items) - len(recent)
	if removed == 0 {
		return 0, nil
	}
	kept := make(map[string]bool, len(recent))
	for _, i := range recent {
		kept[i.ID] = true
	}
	for _, i := range items {
		if !kept[i.ID] && i.Snapshot != "" {
			os.Remove(filepath.Join(l.snapDir, i.Snapshot))
		}
	}
	return removed, l.write(recent)
}

func (l *Log) keepRecent(items []Incident) []Incident {
	recent := []Incident{}
	cutoff := l.now().Add(-l.Retention)
	for _, i := range items {
		if i.Timestamp.After(cutoff) {
			recent = append(recent, i)
		}
	}
	return recent
}

func (l *Log) read() ([]Incident, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Incident{}, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return []Incident{}, nil
	}
	var items []Incident
	if err := json.Unmarshal(data, &items); err != nil {
		// Corrupted file, start fresh on the next write.
		return []Incident{}, nil
	}
	return items, nil
}

func (l *Log) write(items []Incident) error {
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return err
	}
	return os.WriteFile(l.path, data, 0644)
}
