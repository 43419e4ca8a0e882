package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/RafhaelMaglunob/pistream-cloud/pkg/camera"
	"github.com/RafhaelMaglunob/pistream-cloud/pkg/cell"
	"github.com/RafhaelMaglunob/pistream-cloud/pkg/vision"
)

// InitialStatus is reported until the device pushes its first status.
const InitialStatus = "Waiting for Pi to connect..."

// Push classes, matching the device's topic and endpoint names.
const (
	ClassFrame      = "frame"
	ClassDetections = "ml"
	ClassStatus     = "status"
	ClassGPS        = "gps"
)

var (
	ErrTooSmall     = errors.New("frame too small")
	ErrUnknownClass = errors.New("unknown push class")
)

// Location is the last pushed position as shown to viewers.
type Location struct {
	Lat     *float64 `json:"lat"`
	Lon     *float64 `json:"lon"`
	Speed   *float64 `json:"speed"`
	Updated *string  `json:"updated"`
}

// Store holds the latest value of each class pushed by the device.
type Store struct {
	Frames     *cell.Cell[*camera.Frame]
	FirstFrame *cell.Latch
	Detections *cell.Cell[[]vision.Detection]
	Status     *cell.Cell[string]
	Location   *cell.Cell[Location]

	frameMu  sync.Mutex
	frameSeq uint64
	now      func() time.Time
}

func NewStore() *Store {
	s := &Store{
		Frames:     cell.New[*camera.Frame](),
		FirstFrame: &cell.Latch{},
		Detections: cell.New[[]vision.Detection](),
		Status:     cell.New[string](),
		Location:   cell.New[Location](),
		now:        time.Now,
	}
	s.Status.Set(InitialStatus)
	s.Detections.Set([]vision.Detection{})
	s.Location.Set(Location{})
	return s
}

// PutFrame stores jpeg as the latest frame.
func (s *Store) PutFrame(jpeg []byte) {
	s.frameMu.Lock()
	s.frameSeq++
	s.Frames.Set(&camera.Frame{Data: jpeg, Seq: s.frameSeq, CapturedAt: s.now()})
	s.frameMu.Unlock()
	s.FirstFrame.Fire()
}

// PutLocation stores a position stamped with the local time of day.
func (s *Store) PutLocation(lat, lon, speed *float64) {
	updated := s.now().Format("15:04:05")
	s.Location.Set(Location{Lat: lat, Lon: lon, Speed: speed, Updated: &updated})
}

// Snapshot is the state broadcast to live viewers.
type Snapshot struct {
	Status     string             `json:"camera_status"`
	Detections []vision.Detection `json:"ml_results"`
	GPS        Location           `json:"gps"`
	FrameSeq   uint64             `json:"frame_seq"`
}

func (s *Store) Snapshot() Snapshot {
	snap := Snapshot{
		Status:     s.Status.Load(),
		Detections: s.Detections.Load(),
		GPS:        s.Location.Load(),
	}
	if f, ok := s.Frames.Get(); ok && f != nil {
		snap.FrameSeq = f.Seq
	}
	if snap.Detections == nil {
		snap.Detections = []vision.Detection{}
	}
	return snap
}

type statusPush struct {
	Status string `json:"status"`
}

type gpsPush struct {
	Lat   *float64 `json:"lat"`
	Lon   *float64 `json:"lon"`
	Speed *float64 `json:"speed"`
}

// Apply decodes a pushed payload of the given class and stores it.
func (s *Store) Apply(class string, payload []byte) error {
	switch class {
	case ClassFrame:
		if len(payload) < camera.MinFrameSize {
			return ErrTooSmall
		}
		s.PutFrame(payload)
	case ClassDetections:
		var dets []vision.Detection
		if err := json.Unmarshal(payload, &dets); err != nil {
			return fmt.Errorf("decode detections: %w", err)
		}
		if dets == nil {
			dets = []vision.Detection{}
		}
		s.Detections.Set(dets)
	case ClassStatus:
		var p statusPush
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("decode status: %w", err)
		}
		s.Status.Set(p.Status)
	case ClassGPS:
		var p gpsPush
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("decode gps: %w", err)
		}
		s.PutLocation(p.Lat, p.Lon, p.Speed)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownClass, class)
	}
	return nil
}
