package lineproto

import (
	"strconv"
)

// Command is an outbound device command.
type Command struct {
	Device string
	On     bool
	// Brightness is only sent with On for dimmable devices; zero means "no
	// level", not "dark".
	Brightness int
}

// SwitchCommand builds a plain on/off command.
func SwitchCommand(device string, on bool) Command {
	return Command{Device: device, On: on}
}

// DimCommand builds a command for a dimmable device. Zero brightness turns
// the device off.
func DimCommand(device string, brightness int) Command {
	b := Clamp(brightness)
	return Command{Device: device, On: b > 0, Brightness: b}
}

// Line renders the command without the trailing newline.
func (c Command) Line() string {
	if !c.On {
		return c.Device + " off"
	}
	if c.Brightness > 0 {
		return c.Device + " on " + strconv.Itoa(c.Brightness)
	}
	return c.Device + " on"
}

func (c Command) String() string { return c.Line() }
