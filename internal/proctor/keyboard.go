package proctor

import (
	"strings"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// KeyCombo is a key press with its modifiers.
type KeyCombo struct {
	Key   string
	Ctrl  bool
	Meta  bool
	Shift bool
	Alt   bool
}

// blockedShortcuts maps the key pressed together with Ctrl or Cmd to the
// action it triggers.
var blockedShortcuts = map[string]string{
	"c": "copy",
	"x": "cut",
	"v": "paste",
	"a": "select all",
	"f": "find",
	"t": "new tab",
	"n": "new window",
	"w": "close tab",
}

// BlockedAction returns the action a combination would trigger, or "" when
// the combination is allowed.
func BlockedAction(k KeyCombo) string {
	if !k.Ctrl && !k.Meta {
		return ""
	}
	return blockedShortcuts[strings.ToLower(k.Key)]
}

// KeyboardSensor reports blocked keyboard shortcuts.
type KeyboardSensor struct{ hostSensor }

func NewKeyboardSensor() *KeyboardSensor {
	return &KeyboardSensor{hostSensor{name: "keyboard"}}
}

// OnKeyDown reports whether the host must cancel the key press.
func (s *KeyboardSensor) OnKeyDown(k KeyCombo, gestureID string) bool {
	action := BlockedAction(k)
	if action == "" {
		return false
	}
	return s.fire(model.ViolationShortcutBlocked, action, gestureID).Suppress
}
