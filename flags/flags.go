// Package flags defines command-line flags to keep them consistent
// between binaries that embed s5. Not every flag makes sense for every
// binary; each main package registers only the ones it needs by
// importing this package.
package flags

import (
	"flag"
	"os"
	"path/filepath"

	"s5.dev/s5/log"
)

// We define the flags in two steps so clients don't have to write
// *flags.Flag; it also makes the documentation easier to read.
var (
	// MetaDir is the root directory R of §6: it holds root.fs5.cbor,
	// snapshots.fs5.cbor, the registry database, and the blob3/obao6
	// trees.
	MetaDir = filepath.Join(os.Getenv("HOME"), "s5meta")

	// StoreBackend selects the object store backend: "memory", "disk"
	// or "gcs".
	StoreBackend = "disk"

	// HTTPSAddr is the network address on which to listen for incoming
	// peer connections.
	HTTPSAddr = "localhost:5050"

	// Debounce is the autosave debounce interval, in milliseconds. Zero
	// disables autosave.
	Debounce = 2000

	// LogLevel sets the level of logging ("debug", "info", "error" or
	// "disabled").
	LogLevel = logFlag("info")
)

type logFlag string

// String implements flag.Value.
func (l *logFlag) String() string { return log.LevelName() }

// Set implements flag.Value.
func (l *logFlag) Set(level string) error { return log.SetLevel(level) }

// Get implements flag.Getter.
func (l *logFlag) Get() interface{} { return log.LevelName() }

func init() {
	flag.StringVar(&MetaDir, "metadir", MetaDir, "local root directory for fs5 state and the meta blob store")
	flag.StringVar(&StoreBackend, "store", StoreBackend, "object store backend: memory, disk or gcs")
	flag.StringVar(&HTTPSAddr, "https_addr", HTTPSAddr, "address on which to listen for peer connections")
	flag.IntVar(&Debounce, "debounce", Debounce, "autosave debounce interval in milliseconds, 0 to disable")
	flag.Var(&LogLevel, "log", "log level: debug, info, error, disabled")
}
