package handler

import "time"

// SetClock pins the time HandleStats treats as "now".
func (h *StayHandler) SetClock(now func() time.Time) {
	h.now = now
}
