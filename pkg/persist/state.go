package persist

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
)

// Path returns the file a state with the given basename is stored in.
func Path(dir, basename string, codec Codec) string {
	return filepath.Join(dir, basename+codec.Extension())
}

// SaveState atomically writes state to dir/basename+extension.
func SaveState(dir, basename string, codec Codec, state any) error {
	return WriteAtomic(Path(dir, basename, codec), func(f *os.File) error {
		w := bufio.NewWriter(f)

		err := codec.Encode(w, state)
		if err != nil {
			return fmt.Errorf("encode state: %w", err)
		}

		return w.Flush()
	})
}

// LoadState loads state from dir/basename+extension. The state parameter must
// be a pointer. A missing file yields an error matching os.ErrNotExist.
func LoadState(dir, basename string, codec Codec, state any) error {
	path := Path(dir, basename, codec)

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open state file: %w", err)
	}
	defer file.Close()

	err = codec.Decode(bufio.NewReader(file), state)
	if err != nil {
		return fmt.Errorf("decode state %s: %w", path, err)
	}

	return nil
}

// WriteAtomic writes a file through a temporary sibling that is synced and
// renamed over path once fill succeeds.
func WriteAtomic(path string, fill func(*os.File) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	tmpName := tmp.Name()

	fillErr := fill(tmp)
	if fillErr != nil {
		tmp.Close()
		os.Remove(tmpName)

		return fillErr
	}

	syncErr := tmp.Sync()
	if syncErr != nil {
		tmp.Close()
		os.Remove(tmpName)

		return fmt.Errorf("sync temp file: %w", syncErr)
	}

	closeErr := tmp.Close()
	if closeErr != nil {
		os.Remove(tmpName)

		return fmt.Errorf("close temp file: %w", closeErr)
	}

	renameErr := os.Rename(tmpName, path)
	if renameErr != nil {
		os.Remove(tmpName)

		return fmt.Errorf("rename %s: %w", path, renameErr)
	}

	return nil
}
