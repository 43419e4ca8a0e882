//go:build darwin

package camera

import "fmt"

// sourceCommand uses ffmpeg to stream MJPEG from the default macOS webcam so
// the pipeline can be developed without a Raspberry Pi.
//   - -f avfoundation: AVFoundation framework (macOS camera API)
//   - -framerate MUST be 30 for most Mac cameras
//   - -i "0": default video device
//   - -f mjpeg: MJPEG to stdout
func sourceCommand(cfg SourceConfig) (string, []string) {
	return "ffmpeg", []string{
		"-f", "avfoundation",
		"-framerate", "30",
		"-video_size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"-i", "0",
		"-r", itoa(cfg.Framerate),
		"-f", "mjpeg",
		"-q:v", "5",
		"-hide_banner",
		"-loglevel", "error",
		"-",
	}
}
