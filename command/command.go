// Package command holds the remote-control messages exchanged with the
// vehicle over a websocket.
package command

import (
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"bitcar/battery"
	"bitcar/board"
	"bitcar/distance"
	"bitcar/linesensor"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type CommandType string

const (
	SetSpeeds       CommandType = "setSpeeds"
	Stop            CommandType = "stop"
	StandUp         CommandType = "standUp"
	FollowLine      CommandType = "followLine"
	StartFollow     CommandType = "startFollow"
	StopFollow      CommandType = "stopFollow"
	LineState       CommandType = "lineState"
	MeasureDistance CommandType = "measureDistance"
	Ping            CommandType = "ping"
	GetStatus       CommandType = "status"
)

// Command is one request. Fields not used by Type are ignored.
type Command struct {
	Type CommandType `json:"type"`

	Left  int `json:"left,omitempty"`
	Right int `json:"right,omitempty"`

	// Speed of standUp and line following. 0 selects the configured speed,
	// so an explicit stop is a stop or stopFollow command.
	Speed    int `json:"speed,omitempty"`
	ChargeMs int `json:"chargeMs,omitempty"`

	Side string `json:"side,omitempty"`

	Pin     string `json:"pin,omitempty"`
	Unit    string `json:"unit,omitempty"`
	Variant string `json:"variant,omitempty"`

	TrigPin string `json:"trigPin,omitempty"`
	EchoPin string `json:"echoPin,omitempty"`
	MaxCm   int    `json:"maxCm,omitempty"`
}

func Unmarshal(raw []byte) (cmd *Command, err error) {
	cmd = &Command{}
	if err = json.Unmarshal(raw, cmd); err != nil {
		return nil, errors.Wrap(err, "malformed command")
	}
	return cmd, cmd.Validate()
}

// Validate checks the fields Type needs.
func (c *Command) Validate() error {
	switch c.Type {
	case SetSpeeds, Stop, StopFollow, GetStatus:
	case StandUp:
		if c.Speed < 0 || c.Speed > 100 {
			return errors.Errorf("standUp speed %d outside [0, 100]", c.Speed)
		}
		if c.ChargeMs < 0 {
			return errors.Errorf("standUp chargeMs %d is negative", c.ChargeMs)
		}
	case FollowLine, StartFollow:
		if c.Speed < 0 || c.Speed > 100 {
			return errors.Errorf("%s speed %d outside [0, 100]", c.Type, c.Speed)
		}
	case LineState:
		if c.Side != "" {
			if _, err := linesensor.ParseSide(c.Side); err != nil {
				return err
			}
		}
	case MeasureDistance:
		if c.Pin == "" {
			return errors.New("measureDistance needs a pin")
		}
		if err := board.Pin(c.Pin).Validate(); err != nil {
			return err
		}
	case Ping:
		if c.TrigPin == "" || c.EchoPin == "" {
			return errors.New("ping needs trigPin and echoPin")
		}
		for _, pin := range []string{c.TrigPin, c.EchoPin} {
			if err := board.Pin(pin).Validate(); err != nil {
				return err
			}
		}
		if c.MaxCm < 0 || c.MaxCm > distance.MaxPingRange {
			return errors.Errorf("ping maxCm %d outside [0, %d]", c.MaxCm, distance.MaxPingRange)
		}
	case "":
		return errors.New("command type is missing")
	default:
		return errors.Errorf("unknown command type %q", c.Type)
	}
	return nil
}

// Status is a snapshot of the vehicle.
type Status struct {
	Left      int                   `json:"left"`
	Right     int                   `json:"right"`
	Following bool                  `json:"following"`
	Line      *linesensor.LineState `json:"line,omitempty"`
	Distance  *float64              `json:"distance,omitempty"`
	Unit      string                `json:"unit,omitempty"`
	Battery   *battery.Status       `json:"battery,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
}

// Reply answers one Command.
type Reply struct {
	Type   CommandType           `json:"type"`
	OK     bool                  `json:"ok"`
	Error  string                `json:"error,omitempty"`
	Value  *float64              `json:"value,omitempty"`
	Line   *linesensor.LineState `json:"line,omitempty"`
	Status *Status               `json:"status,omitempty"`
}

// Failed builds an error reply.
func Failed(t CommandType, err error) *Reply {
	return &Reply{Type: t, Error: err.Error()}
}

func (r *Reply) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

func (s *Status) Marshal() ([]byte, error) {
	return json.Marshal(s)
}
