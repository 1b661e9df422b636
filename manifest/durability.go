package manifest

import (
	"fmt"

	"github.com/hupe1980/graphstore/internal/fs"
)

// Durability controls whether commits fsync.
type Durability uint8

const (
	// DurabilityStrict fsyncs every file in the commit path and the database
	// directory after the current pointer is swapped.
	DurabilityStrict Durability = iota
	// DurabilityRelaxed skips fsync and relies on OS write-back. A power loss
	// can lose recent commits but never produces a torn chain.
	DurabilityRelaxed
)

func (d Durability) String() string {
	switch d {
	case DurabilityStrict:
		return "strict"
	case DurabilityRelaxed:
		return "relaxed"
	default:
		return fmt.Sprintf("durability(%d)", uint8(d))
	}
}

// ParseDurability parses "strict" or "relaxed".
func ParseDurability(s string) (Durability, error) {
	switch s {
	case "strict", "":
		return DurabilityStrict, nil
	case "relaxed":
		return DurabilityRelaxed, nil
	default:
		return 0, fmt.Errorf("%w: unknown durability %q", ErrInvalidArgument, s)
	}
}

func (d Durability) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Durability) UnmarshalText(text []byte) error {
	v, err := ParseDurability(string(text))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// syncMode maps the durability policy onto a write. final is set only for the
// last write of a commit, which additionally syncs the directory.
func (d Durability) syncMode(final bool) fs.SyncMode {
	if d == DurabilityRelaxed {
		return fs.NoSync
	}
	if final {
		return fs.SyncFileAndDir
	}
	return fs.SyncFile
}
