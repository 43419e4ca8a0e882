// Package gps produces position fixes from a serial NMEA receiver or a
// configured static coordinate.
package gps

import (
	"errors"
	"fmt"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"
)

// KnotsToKmh converts NMEA speed over ground to km/h.
const KnotsToKmh = 1.852

var (
	// ErrNoFix is returned for an RMC sentence with a void status.
	ErrNoFix = errors.New("gps: no fix")
	// ErrUnsupportedSentence is returned for anything but RMC.
	ErrUnsupportedSentence = errors.New("gps: unsupported sentence")
)

// Fix is a single position report.
type Fix struct {
	Lat      float64   `json:"lat"`
	Lon      float64   `json:"lon"`
	Speed    *float64  `json:"speed"` // km/h, nil when the receiver did not report it
	Acquired bool      `json:"fix"`
	Time     time.Time `json:"time"`
}

// rmcSpeedField is the index of speed over ground within an RMC sentence.
const rmcSpeedField = 6

// ParseRMC parses a $GPRMC or $GNRMC sentence. Only fixes with status A are
// accepted.
func ParseRMC(line string, now time.Time) (Fix, error) {
	line = strings.TrimSpace(line)
	s, err := nmea.Parse(line)
	if err != nil {
		return Fix{}, fmt.Errorf("gps: %w", err)
	}
	if s.DataType() != nmea.TypeRMC {
		return Fix{}, fmt.Errorf("%w: %s%s", ErrUnsupportedSentence, s.TalkerID(), s.DataType())
	}
	rmc, ok := s.(nmea.RMC)
	if !ok {
		return Fix{}, fmt.Errorf("%w: %T", ErrUnsupportedSentence, s)
	}
	if rmc.Validity != nmea.ValidRMC {
		return Fix{}, ErrNoFix
	}

	fix := Fix{
		Lat:      rmc.Latitude,
		Lon:      rmc.Longitude,
		Acquired: true,
		Time:     now,
	}
	if len(rmc.Fields) > rmcSpeedField && rmc.Fields[rmcSpeedField] != "" {
		kmh := rmc.Speed * KnotsToKmh
		fix.Speed = &kmh
	}
	return fix, nil
}
