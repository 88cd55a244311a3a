package fs5

import (
	"os"

	"github.com/google/renameio/v2"
)

// readFileIfExists returns nil, nil when path does not exist, letting
// callers fall back to a zero-value default.
func readFileIfExists(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// ReadFileIfExists exports readFileIfExists for use outside the
// package (the gc package reads root.fs5.cbor/snapshots.fs5.cbor
// directly, the same way the actor tree's own persistence does).
func ReadFileIfExists(path string) ([]byte, error) {
	return readFileIfExists(path)
}

// writeFileAtomicByRename writes data to path via a temp-file-then-
// rename sequence, for files (like snapshots.fs5.cbor) that aren't
// held open across the process lifetime the way root.fs5.cbor is.
func writeFileAtomicByRename(path string, data []byte) error {
	return renameio.WriteFile(path, data, 0o600)
}
