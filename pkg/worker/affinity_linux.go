//go:build linux

package worker

import "golang.org/x/sys/unix"

// setAffinity confines the calling OS thread to cores.
func setAffinity(cores []int) error {
	var set unix.CPUSet
	set.Zero()
	for _, c := range cores {
		set.Set(c)
	}
	return unix.SchedSetaffinity(0, &set)
}

func setPriority(p uint8) error {
	return unix.Setpriority(unix.PRIO_PROCESS, unix.Gettid(), niceValue(p))
}

// niceValue maps 1..255 onto nice 19..-20.
func niceValue(p uint8) int {
	return 19 - int(p)*39/255
}
