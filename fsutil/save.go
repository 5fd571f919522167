package fsutil

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Ops are the filesystem primitives used by SaveFile. Tests swap them to
// simulate failures part way through a save.
type Ops struct {
	Rename func(oldpath, newpath string) error
	Remove func(path string) error
	Stat   func(path string) (os.FileInfo, error)
	Create func(path string) (*os.File, error)
}

// DefaultOps uses the os package directly.
var DefaultOps = Ops{
	Rename: os.Rename,
	Remove: os.Remove,
	Stat:   os.Stat,
	Create: os.Create,
}

// BackupPath is the name an existing destination is moved to while saving.
func BackupPath(path string) string {
	return path + ".bak"
}

// SaveFile writes path through a temporary file so the destination is
// never left half written. An existing destination is kept as <path>.bak.
func SaveFile(path string, write func(w io.Writer) error) error {
	return DefaultOps.SaveFile(path, write)
}

func (o Ops) SaveFile(path string, write func(w io.Writer) error) error {
	if path == "" {
		return fmt.Errorf("fsutil: empty save path")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("fsutil: create directory %s: %w", dir, err)
	}

	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(path), uuid.NewString()))
	if err := o.writeTemp(tmp, write); err != nil {
		_ = o.Remove(tmp)
		return err
	}

	backup := BackupPath(path)
	hadOriginal := false
	if _, err := o.Stat(path); err == nil {
		hadOriginal = true
		if _, err := o.Stat(backup); err == nil {
			if err := o.Remove(backup); err != nil {
				_ = o.Remove(tmp)
				return fmt.Errorf("fsutil: remove old backup %s: %w", backup, err)
			}
		}
		if err := o.Rename(path, backup); err != nil {
			_ = o.Remove(tmp)
			return fmt.Errorf("fsutil: backup %s: %w", path, err)
		}
	}

	if err := o.Rename(tmp, path); err != nil {
		_ = o.Remove(tmp)
		if hadOriginal {
			if rerr := o.Rename(backup, path); rerr != nil {
				return fmt.Errorf("fsutil: save %s: %w (restore from %s failed: %v)", path, err, backup, rerr)
			}
		}
		return fmt.Errorf("fsutil: save %s: %w", path, err)
	}
	return nil
}

func (o Ops) writeTemp(tmp string, write func(w io.Writer) error) error {
	f, err := o.Create(tmp)
	if err != nil {
		return fmt.Errorf("fsutil: create %s: %w", tmp, err)
	}
	bw := bufio.NewWriter(f)
	werr := write(bw)
	if werr == nil {
		werr = bw.Flush()
	}
	if werr == nil {
		werr = f.Sync()
	}
	cerr := f.Close()
	if werr != nil {
		return fmt.Errorf("fsutil: write %s: %w", tmp, werr)
	}
	if cerr != nil {
		return fmt.Errorf("fsutil: close %s: %w", tmp, cerr)
	}
	return nil
}

// IsNotExist reports whether err means the file is missing.
func IsNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
