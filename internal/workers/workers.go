package workers

import "runtime"

// DefaultMaxSlots caps DefaultSlots on large hosts. Every slot may hold a
// yt-dlp and an ffmpeg process at the same time.
const DefaultMaxSlots = 16

// slotsPerCPU is above one because a slot mostly waits on the network and
// on its child processes.
const slotsPerCPU = 2.0

// Slots sizes a pool at perCPU slots per available CPU, at least one and at
// most max (0 means uncapped). Available CPUs come from GOMAXPROCS, which
// Go derives from the container CPU quota.
func Slots(perCPU float64, max int) int {
	n := int(float64(runtime.GOMAXPROCS(0)) * perCPU)
	if n < 1 {
		n = 1
	}
	if max > 0 && n > max {
		n = max
	}
	return n
}

// DefaultSlots is the pool size used when WORKER_COUNT is unset.
func DefaultSlots() int {
	return Slots(slotsPerCPU, DefaultMaxSlots)
}
