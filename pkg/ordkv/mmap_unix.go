package ordkv

import "golang.org/x/sys/unix"

func msync(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	return unix.Msync(data, unix.MS_SYNC)
}
