//go:build !linux

package worker

func setAffinity([]int) error { return nil }

func setPriority(uint8) error { return nil }
