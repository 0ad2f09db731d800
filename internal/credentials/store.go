package credentials

import (
	"errors"
	"path/filepath"
	"regexp"

	"github.com/samber/oops"
	"github.com/spf13/afero"
)

var ErrInvalidUserID = errors.New("invalid user id")

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9._@+-]{1,128}$`)

// ValidateUserID rejects ids that cannot safely name a directory.
func ValidateUserID(userID string) error {
	if userID == "." || userID == ".." || !userIDPattern.MatchString(userID) {
		return oops.
			In("credentials").
			Code("invalid_user_id").
			With("user_id", userID).
			Wrap(ErrInvalidUserID)
	}
	return nil
}

// Store keeps one directory of authentication material per user under
// root. The directory's presence is the only signal that a user has
// paired before.
type Store struct {
	fs   afero.Fs
	root string
}

func NewStore(fs afero.Fs, root string) *Store {
	return &Store{fs: fs, root: root}
}

// NewOSStore is a Store on the real filesystem.
func NewOSStore(root string) *Store {
	return NewStore(afero.NewOsFs(), root)
}

// Path returns the credential directory of userID without touching disk.
func (s *Store) Path(userID string) (string, error) {
	if err := ValidateUserID(userID); err != nil {
		return "", err
	}
	return filepath.Join(s.root, userID), nil
}

// Load ensures the user's credential directory exists and returns it.
func (s *Store) Load(userID string) (string, error) {
	dir, err := s.Path(userID)
	if err != nil {
		return "", err
	}

	if err := s.fs.MkdirAll(dir, 0o700); err != nil {
		return "", oops.
			In("credentials").
			With("user_id", userID, "dir", dir).
			Wrapf(err, "create credential directory")
	}

	return dir, nil
}

// Wipe deletes the user's credential directory. A missing directory is
// not an error.
func (s *Store) Wipe(userID string) error {
	dir, err := s.Path(userID)
	if err != nil {
		return err
	}

	if err := s.fs.RemoveAll(dir); err != nil {
		return oops.
			In("credentials").
			With("user_id", userID, "dir", dir).
			Wrapf(err, "wipe credential directory")
	}

	return nil
}

// WipeAll removes every user's credentials.
func (s *Store) WipeAll() error {
	if err := s.fs.RemoveAll(s.root); err != nil {
		return oops.
			In("credentials").
			With("dir", s.root).
			Wrapf(err, "wipe sessions root")
	}
	return nil
}

func (s *Store) Exists(userID string) (bool, error) {
	dir, err := s.Path(userID)
	if err != nil {
		return false, err
	}
	return afero.DirExists(s.fs, dir)
}

// Save atomically replaces one record file in the user's directory.
func (s *Store) Save(userID, name string, data []byte) error {
	dir, err := s.Load(userID)
	if err != nil {
		return err
	}

	errb := oops.In("credentials").With("user_id", userID, "record", name)

	if name != filepath.Base(name) || name == "." || name == ".." {
		return errb.Errorf("invalid record name")
	}

	tmp, err := afero.TempFile(s.fs, dir, "."+name+".*")
	if err != nil {
		return errb.Wrapf(err, "create temp record")
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = s.fs.Remove(tmpName)
		return errb.Wrapf(err, "write temp record")
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmpName)
		return errb.Wrapf(err, "close temp record")
	}

	if err := s.fs.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		_ = s.fs.Remove(tmpName)
		return errb.Wrapf(err, "rename record")
	}

	return nil
}
