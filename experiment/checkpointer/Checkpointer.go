// Package checkpointer saves snapshots of serializable objects to disk
// during training so that runs can be resumed or inspected later.
package checkpointer

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
)

// Serializable is an object that can be saved/serialized
type Serializable interface {
	gob.GobEncoder
	gob.GobDecoder
}

// Checkpointer saves snapshots of a Serializable, writing each
// snapshot to a new enumerated file in its directory.
type Checkpointer struct {
	target   Serializable
	filename func() string
	last     string
}

// New returns a Checkpointer that writes snapshots of target into dir
// with filenames name1.bin, name2.bin, and so on.
func New(target Serializable, dir, name string) (*Checkpointer, error) {
	if target == nil {
		return nil, fmt.Errorf("checkpointer: no target to checkpoint")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("checkpointer: could not create checkpoint "+
			"directory: %v", err)
	}

	return &Checkpointer{
		target:   target,
		filename: filenameEnumerator(0, filepath.Join(dir, name), ".bin"),
	}, nil
}

// Checkpoint writes the next snapshot of the target, returning the
// path of the file written.
func (c *Checkpointer) Checkpoint() (string, error) {
	data, err := c.target.GobEncode()
	if err != nil {
		return "", fmt.Errorf("checkpoint: could not encode target: %v", err)
	}

	path := c.filename()
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("checkpoint: could not write %v: %v", path, err)
	}
	c.last = path

	return path, nil
}

// LastCheckpoint returns the path of the most recent snapshot written,
// or the empty string if no snapshot has been written yet.
func (c *Checkpointer) LastCheckpoint() string {
	return c.last
}

// Load restores a Serializable from the snapshot at path
func Load(path string, into Serializable) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("load: could not read checkpoint: %v", err)
	}
	if err := into.GobDecode(data); err != nil {
		return fmt.Errorf("load: could not decode checkpoint: %v", err)
	}

	return nil
}

// filenameEnumerator returns a function which returns filenames with a
// counter integer suffix. Each call to the returned function yields a
// counter one higher than the previous call. The filename parameter is
// the full filename with its path, while the extension parameter
// determines the file extension.
func filenameEnumerator(start int, filename, extension string) func() string {
	i := start
	return func() string {
		i++
		return fmt.Sprintf("%v%v%v", filename, i, extension)
	}
}
