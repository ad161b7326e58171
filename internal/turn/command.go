package turn

import (
	"fmt"
	"strings"
)

// Command is an out-of-band request to the controller.
type Command int

const (
	CmdNetworkOnline Command = iota + 1
	CmdNetworkOffline
	CmdShutdown
)

func (c Command) String() string {
	switch c {
	case CmdNetworkOnline:
		return "network-online"
	case CmdNetworkOffline:
		return "network-offline"
	case CmdShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("command(%d)", int(c))
	}
}

// ParseCommand reads one line of the stdin protocol: ON, OFF or QUIT.
func ParseCommand(line string) (Command, error) {
	switch strings.ToUpper(strings.TrimSpace(line)) {
	case "ON":
		return CmdNetworkOnline, nil
	case "OFF":
		return CmdNetworkOffline, nil
	case "QUIT", "EXIT":
		return CmdShutdown, nil
	default:
		return 0, fmt.Errorf("turn: unknown command %q", line)
	}
}
