//go:build linux

package alarm

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// GPIOLine drives a single GPIO output line.
type GPIOLine struct {
	line *gpiocdev.Line
}

// NewIndicator requests offset on chip (for example "gpiochip0") as an output,
// initially low.
func NewIndicator(chip string, offset int) (Indicator, error) {
	l, err := gpiocdev.RequestLine(chip, offset, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, fmt.Errorf("failed to request alarm line %s:%d: %w", chip, offset, err)
	}
	return &GPIOLine{line: l}, nil
}

func (g *GPIOLine) Set(on bool) error {
	v := 0
	if on {
		v = 1
	}
	return g.line.SetValue(v)
}

func (g *GPIOLine) Close() error {
	g.line.SetValue(0)
	return g.line.Close()
}
