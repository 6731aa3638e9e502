package cardwave

import (
	"errors"
	"fmt"
)

var (
	// ErrNoAudio is returned by operations that need decoded audio before
	// any has been decoded.
	ErrNoAudio = errors.New("no audio loaded")
	// ErrDestroyed is returned by Load after Destroy.
	ErrDestroyed = errors.New("engine destroyed")
)

// StateError reports an operation called in a state that cannot serve it.
type StateError struct {
	Op  string
	Err error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StateError) Unwrap() error { return e.Err }

// PluginError reports a plugin whose overlay failed. The plugin stays
// registered but is no longer drawn.
type PluginError struct {
	Plugin string
	Err    error
}

func (e *PluginError) Error() string {
	return fmt.Sprintf("plugin %s: %v", e.Plugin, e.Err)
}

func (e *PluginError) Unwrap() error { return e.Err }
