package main

import (
	"io"
	"strconv"

	"github.com/abiosoft/ishell/v2"
	"github.com/pkg/errors"

	"bitcar/command"
)

type shellCmd struct {
	name  string
	help  string
	parse func(args []string) (*command.Command, error)
}

var shellCmds = []shellCmd{
	{"move", "move <left> <right>", parseMove},
	{"stop", "stop", fixed(command.Stop)},
	{"standup", "standup [speed] [charge ms]", parseStandUp},
	{"line", "line [left|right]", parseLine},
	{"follow", "follow [start|stop|step] [speed]", parseFollow},
	{"distance", "distance <pin> [cm|inch] [v1|v2]", parseDistance},
	{"ping", "ping <trig> <echo> [cm|inch|us] [max cm]", parsePing},
	{"status", "status", fixed(command.GetStatus)},
}

func fixed(t command.CommandType) func([]string) (*command.Command, error) {
	return func(args []string) (*command.Command, error) {
		return &command.Command{Type: t}, nil
	}
}

func intArg(args []string, i int, name string) (int, error) {
	if i >= len(args) {
		return 0, nil
	}
	v, err := strconv.Atoi(args[i])
	if err != nil {
		return 0, errors.Errorf("%s %q is not a number", name, args[i])
	}
	return v, nil
}

func strArg(args []string, i int) string {
	if i >= len(args) {
		return ""
	}
	return args[i]
}

func parseMove(args []string) (*command.Command, error) {
	if len(args) != 2 {
		return nil, errors.New("move needs a left and a right speed")
	}
	left, err := intArg(args, 0, "left")
	if err != nil {
		return nil, err
	}
	right, err := intArg(args, 1, "right")
	if err != nil {
		return nil, err
	}
	return &command.Command{Type: command.SetSpeeds, Left: left, Right: right}, nil
}

func parseStandUp(args []string) (*command.Command, error) {
	speed, err := intArg(args, 0, "speed")
	if err != nil {
		return nil, err
	}
	charge, err := intArg(args, 1, "charge")
	if err != nil {
		return nil, err
	}
	return &command.Command{Type: command.StandUp, Speed: speed, ChargeMs: charge}, nil
}

func parseLine(args []string) (*command.Command, error) {
	return &command.Command{Type: command.LineState, Side: strArg(args, 0)}, nil
}

func parseFollow(args []string) (*command.Command, error) {
	speed, err := intArg(args, 1, "speed")
	if err != nil {
		return nil, err
	}
	switch strArg(args, 0) {
	case "", "step":
		return &command.Command{Type: command.FollowLine, Speed: speed}, nil
	case "start":
		return &command.Command{Type: command.StartFollow, Speed: speed}, nil
	case "stop":
		return &command.Command{Type: command.StopFollow}, nil
	default:
		return nil, errors.Errorf("unknown follow action %q", args[0])
	}
}

func parseDistance(args []string) (*command.Command, error) {
	if len(args) == 0 {
		return nil, errors.New("distance needs a pin")
	}
	return &command.Command{
		Type:    command.MeasureDistance,
		Pin:     args[0],
		Unit:    strArg(args, 1),
		Variant: strArg(args, 2),
	}, nil
}

func parsePing(args []string) (*command.Command, error) {
	if len(args) < 2 {
		return nil, errors.New("ping needs a trigger and an echo pin")
	}
	maxCm, err := intArg(args, 3, "max")
	if err != nil {
		return nil, err
	}
	return &command.Command{
		Type:    command.Ping,
		TrigPin: args[0],
		EchoPin: args[1],
		Unit:    strArg(args, 2),
		MaxCm:   maxCm,
	}, nil
}

// parseShell turns one shell line into a validated command.
func parseShell(name string, args []string) (*command.Command, error) {
	for _, sc := range shellCmds {
		if sc.name != name {
			continue
		}
		cmd, err := sc.parse(args)
		if err != nil {
			return nil, err
		}
		return cmd, cmd.Validate()
	}
	return nil, errors.Errorf("unknown command %q", name)
}

// runShell blocks until the user exits the shell.
func runShell(v car, out io.Writer) {
	shell := ishell.New()
	shell.SetOut(out)
	shell.Println("BitCar shell, type help for commands")
	for _, sc := range shellCmds {
		name := sc.name
		shell.AddCmd(&ishell.Cmd{
			Name: name,
			Help: sc.help,
			Func: func(c *ishell.Context) {
				cmd, err := parseShell(name, c.Args)
				if err != nil {
					c.Err(err)
					return
				}
				data, err := v.Execute(cmd).Marshal()
				if err != nil {
					c.Err(err)
					return
				}
				c.Println(string(data))
			},
		})
	}
	shell.Run()
	shell.Close()
}
