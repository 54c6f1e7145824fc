package clockcheck

import "time"

// Kernel clock discipline constants from <sys/timex.h>.
const (
	timeError = 5
	staUnsync = 0x0040
	staNano   = 0x2000
)

// evaluate interprets an adjtimex result. maxErrUs is the kernel's maximum
// error estimate in microseconds; offset is in microseconds, or nanoseconds
// when STA_NANO is set.
func evaluate(clockState int, status int32, maxErrUs, offset int64, maxError time.Duration) (bool, time.Duration) {
	off := time.Duration(offset) * time.Microsecond
	if status&staNano != 0 {
		off = time.Duration(offset)
	}
	synced := clockState != timeError && status&staUnsync == 0
	if maxError > 0 && time.Duration(maxErrUs)*time.Microsecond > maxError {
		synced = false
	}
	return synced, off
}
