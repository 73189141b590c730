package patcher

import (
	"os"
	"path/filepath"

	"github.com/wippyai/wasmonkey/errors"
)

// stagedFile is a fully written temporary file waiting to be renamed onto
// its destination.
type stagedFile struct {
	path string
	tmp  string
}

// stageFile writes data to a temporary file next to path. Nothing at path
// changes until commit.
func stageFile(path string, data []byte) (*stagedFile, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, errors.IO(errors.PhaseWrite, path, err)
	}
	s := &stagedFile{path: path, tmp: tmp.Name()}

	fail := func(err error) (*stagedFile, error) {
		_ = tmp.Close()
		s.discard()
		return nil, errors.IO(errors.PhaseWrite, path, err)
	}
	if _, err := tmp.Write(data); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		s.discard()
		return nil, errors.IO(errors.PhaseWrite, path, err)
	}
	return s, nil
}

func (s *stagedFile) commit() error {
	if err := os.Rename(s.tmp, s.path); err != nil {
		return errors.IO(errors.PhaseWrite, s.path, err)
	}
	return nil
}

// discard removes the temporary file. It is a no-op after commit.
func (s *stagedFile) discard() {
	_ = os.Remove(s.tmp)
}

// writeFileAtomic replaces path with data, so path is either left alone or
// fully replaced.
func writeFileAtomic(path string, data []byte) error {
	s, err := stageFile(path, data)
	if err != nil {
		return err
	}
	defer s.discard()
	return s.commit()
}
