//go:build !linux && !darwin

package camera

// NewDeviceReserver returns a no-op: there is no portable kill-by-name here.
func NewDeviceReserver(command string) DeviceReserver {
	return NopReserver{}
}
