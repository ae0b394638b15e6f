// Package transport is the boundary to the MeshCore device link. The link
// itself (serial, TCP or BLE) lives outside this module; implementations of
// Client decode raw device events into validated Responses.
package transport

//go:generate mockgen -destination=mock_client.go -package=transport github.com/nicktill/meshstats/pkg/transport Client

import (
	"context"
	"errors"
	"fmt"

	"github.com/nicktill/meshstats/pkg/sample"
)

// Command names a device query
type Command string

const (
	// Repeater queries (binary requests routed through the companion)
	CmdRepeaterStatus    Command = "req_status"
	CmdRepeaterTelemetry Command = "req_telemetry"

	// Companion queries
	CmdStatsCore     Command = "get_stats_core"
	CmdStatsRadio    Command = "get_stats_radio"
	CmdStatsPackets  Command = "get_stats_packets"
	CmdContacts      Command = "get_contacts"
	CmdSelfTelemetry Command = "get_self_telemetry"
)

var (
	// ErrNoResponse is the reason when the device never answered
	ErrNoResponse = errors.New("no response received")

	// ErrTimeout is the reason when the device answered too late
	ErrTimeout = errors.New("command timed out")
)

// CommandError is the failure half of a command result
type CommandError struct {
	Command Command
	Reason  error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %v", e.Command, e.Reason)
}

func (e *CommandError) Unwrap() error {
	return e.Reason
}

// Response is the success half of a command result. Payloads are validated
// before they reach this struct.
type Response struct {
	Command Command

	// Fields holds named numeric readings (status and stats commands)
	Fields sample.Fields

	// Telemetry holds flattened LPP readings (telemetry commands)
	Telemetry sample.Fields

	// Contacts is the number of known contacts (contacts command)
	Contacts int
}

// Client runs one command against the device. Implementations bound each
// call with their own timeout and return a *CommandError on failure.
type Client interface {
	Run(ctx context.Context, cmd Command) (Response, error)
}
