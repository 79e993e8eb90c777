package ui

import (
	"errors"
	"fmt"
	"strings"
)

type CommandKind int

const (
	CmdNick CommandKind = iota + 1
	CmdWho
	CmdReconnect
	CmdMedia
	CmdQuit
	CmdHelp
)

type Command struct {
	Kind CommandKind
	Arg  string
}

var ErrUnknownCommand = errors.New("unknown command")

const helpText = `commands:
  /nick <name>       change nickname
  /who               list peers and their links
  /reconnect <name>  retry the link to a peer
  /media on|off      start or stop sending media files
  /quit              leave the room`

// ParseCommand parses a line starting with a slash.
func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(strings.TrimPrefix(strings.TrimSpace(line), "/"))
	if len(fields) == 0 {
		return Command{}, ErrUnknownCommand
	}
	name, args := strings.ToLower(fields[0]), fields[1:]
	arg := strings.Join(args, " ")

	switch name {
	case "nick", "name":
		if arg == "" {
			return Command{}, fmt.Errorf("usage: /nick <name>")
		}
		return Command{Kind: CmdNick, Arg: arg}, nil
	case "who", "peers":
		return Command{Kind: CmdWho}, nil
	case "reconnect":
		if arg == "" {
			return Command{}, fmt.Errorf("usage: /reconnect <name>")
		}
		return Command{Kind: CmdReconnect, Arg: arg}, nil
	case "media":
		arg = strings.ToLower(arg)
		if arg != "on" && arg != "off" {
			return Command{}, fmt.Errorf("usage: /media on|off")
		}
		return Command{Kind: CmdMedia, Arg: arg}, nil
	case "quit", "exit", "leave":
		return Command{Kind: CmdQuit}, nil
	case "help", "?":
		return Command{Kind: CmdHelp}, nil
	}
	return Command{}, fmt.Errorf("%w: /%s", ErrUnknownCommand, name)
}
