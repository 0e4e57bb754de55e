package io

import (
	"io/fs"
	"os"
	"path/filepath"
)

// create file with its parent direcrtory, if missing.
//
// args:
//   - name: filepath to be created.
//   - fmod: os.FileMode for file.
//   - dmod: os.FileMode for directory.
//
// Note that `dmod` effects to only newly-created direcotries.
// So, directoreis which have existed are not effected with `dmod`.
//
// return (*os.File, err):
//   When a file is created successfully, `(file, nil)` pair will be returned.
//   Or, if it failed creating one of file or direcories, `(nil, err)` pair will be returned.
//
func CreateAll(name string, fmod os.FileMode, dmod os.FileMode) (*os.File, error) {

	dirname := filepath.Dir(name)
	if err := os.MkdirAll(dirname, dmod); err != nil {
		return nil, err
	}

	return os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, fmod)
}

// copy regular files under source into dest, keeping their layout.
//
// Parent directories are created as needed. Empty directories and
// non-regular files are not copied.
//
// args:
//   - source: directory to copy from.
//   - dest: directory to copy into.
//
// return:
//
//	error when source can not be walked or a file can not be written.
func DirCopy(source string, dest string) error {
	return filepath.WalkDir(source, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(source, p)
		if err != nil {
			return err
		}

		content, err := os.ReadFile(p)
		if err != nil {
			return err
		}

		f, err := CreateAll(filepath.Join(dest, rel), 0644, 0755)
		if err != nil {
			return err
		}
		defer f.Close()

		_, err = f.Write(content)
		return err
	})
}
