// Package power reports host sleep and wake transitions to injected
// callbacks. On Linux the systemd-logind PrepareForSleep signal is the event
// source; elsewhere, or when the system bus is unreachable, the monitor idles.
//
// Callbacks are fire-and-forget. The monitor holds no logind inhibitor lock,
// so suspend is not delayed while the sleep callback runs and work in flight
// may be frozen mid-step; it continues once the wake callback resumes it.
package power
