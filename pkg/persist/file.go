package persist

import (
	"fmt"
	"os"
	"path/filepath"
)

// File permissions for state files.
const filePerm = 0o600

// StatePath returns the file a state with the given basename is stored in.
func StatePath(dir, basename string, codec Codec) string {
	return filepath.Join(dir, basename+codec.Extension())
}

// SaveState saves the given state to a file in the specified directory.
// The file is written under a temporary name and renamed into place, so a
// reader never observes a half-written state.
func SaveState(dir, basename string, codec Codec, state any) error {
	data, err := Marshal(codec, state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	return WriteFileAtomic(StatePath(dir, basename, codec), data)
}

// LoadState loads state from a file in the specified directory.
// The state parameter must be a pointer to the target struct.
func LoadState(dir, basename string, codec Codec, state any) error {
	file, err := os.Open(StatePath(dir, basename, codec))
	if err != nil {
		return fmt.Errorf("open state file: %w", err)
	}
	defer file.Close()

	err = codec.Decode(file, state)
	if err != nil {
		return fmt.Errorf("decode state: %w", err)
	}

	return nil
}

// WriteFileAtomic writes data to path via a temporary file in the same directory.
func WriteFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create state file: %w", err)
	}

	tmpName := tmp.Name()

	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()

	if writeErr != nil || closeErr != nil {
		_ = os.Remove(tmpName)

		if writeErr != nil {
			return fmt.Errorf("write state file: %w", writeErr)
		}

		return fmt.Errorf("close state file: %w", closeErr)
	}

	chmodErr := os.Chmod(tmpName, filePerm)
	if chmodErr != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("chmod state file: %w", chmodErr)
	}

	renameErr := os.Rename(tmpName, path)
	if renameErr != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("rename state file: %w", renameErr)
	}

	return nil
}
