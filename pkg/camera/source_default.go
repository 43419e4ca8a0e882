//go:build !darwin

package camera

// sourceCommand returns the rpicam-vid invocation: unbounded MJPEG capture to
// stdout with neutral image tuning.
func sourceCommand(cfg SourceConfig) (string, []string) {
	return "rpicam-vid", []string{
		"-t", "0",
		"--width", itoa(cfg.Width),
		"--height", itoa(cfg.Height),
		"--framerate", itoa(cfg.Framerate),
		"--codec", "mjpeg",
		"--quality", itoa(cfg.Quality),
		"--inline", "--nopreview",
		"--denoise", "off",
		"--sharpness", "1.0",
		"--contrast", "1.0",
		"--brightness", "0.0",
		"--saturation", "1.0",
		"--awb", "auto",
		"--flush", "1",
		"-o", "-",
	}
}
