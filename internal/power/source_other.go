//go:build !linux

package power

// Hosts other than Linux have no supported power-event feed; the monitor
// runs in its idle mode.
func platformSource() Source {
	return nil
}
