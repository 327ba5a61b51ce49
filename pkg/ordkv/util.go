package ordkv

import ofs "github.com/calvinalkan/ordkv/pkg/fs"

func fileExists(fsys ofs.FS, path string) (bool, error) {
	ok, err := fsys.Exists(path)
	if err != nil {
		return false, ioErr("stat", err)
	}

	return ok, nil
}
