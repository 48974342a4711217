package common

import (
	"errors"
	"strings"
)

var ErrModulePaused = errors.New("module paused")

// PauseView reports whether a module currently refuses state changes.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard returns ErrModulePaused when p marks module as paused.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// StaticPauses is a PauseView backed by a fixed set of module names, typically
// loaded from operator configuration.
type StaticPauses map[string]bool

// IsPaused implements PauseView. Module names are matched case-insensitively.
func (s StaticPauses) IsPaused(module string) bool {
	if len(s) == 0 {
		return false
	}
	return s[strings.ToLower(strings.TrimSpace(module))]
}

// NewStaticPauses normalises the supplied module names into a StaticPauses set.
func NewStaticPauses(modules ...string) StaticPauses {
	set := make(StaticPauses, len(modules))
	for _, module := range modules {
		if trimmed := strings.ToLower(strings.TrimSpace(module)); trimmed != "" {
			set[trimmed] = true
		}
	}
	return set
}
