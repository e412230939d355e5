// Package protocol defines the JSON envelope exchanged over the control
// channel and which roles may send which message types.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrProtocol marks a malformed or disallowed message. The connection that
// sent it is closed.
var ErrProtocol = errors.New("protocol error")

// Role is the part a connection plays in the fleet.
type Role string

const (
	RoleScanner  Role = "scanner"
	RoleListener Role = "listener"
	RoleOverseer Role = "overseer"
)

// ParseRole validates a handshake role.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleScanner, RoleListener, RoleOverseer:
		return r, nil
	}
	return "", fmt.Errorf("%w: unrecognized role %q", ErrProtocol, s)
}

// Type is a message type.
type Type string

const (
	TypePing            Type = "ping"
	TypePong            Type = "pong"
	TypeCommand         Type = "command"
	TypeCommandResponse Type = "commandResponse"
	TypeStatus          Type = "status"
	TypeDebug           Type = "debug"
	TypeConnected       Type = "connected"
	TypeDisconnect      Type = "disconnect"
	TypeFullStatus      Type = "fullStatus"
)

// Message is the control-channel envelope.
type Message struct {
	Type          Type            `json:"type"`
	Name          string          `json:"name,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
	SessionID     string          `json:"sessionId,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// inbound lists the message types each role may send to the server.
var inbound = map[Role]map[Type]bool{
	RoleScanner: {
		TypePong:            true,
		TypeCommandResponse: true,
		TypeStatus:          true,
		TypeDebug:           true,
		TypeFullStatus:      true,
	},
	RoleListener: {
		TypePong:    true,
		TypeCommand: true,
	},
	RoleOverseer: {
		TypePong:    true,
		TypeCommand: true,
	},
}

// Decode parses a message sent by a connection with the given role.
// Malformed JSON, unknown types and types the role may not send are all
// ErrProtocol.
func Decode(role Role, raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, fmt.Errorf("%w: malformed message: %w", ErrProtocol, err)
	}
	if !Known(m.Type) {
		return Message{}, fmt.Errorf("%w: unknown message type %q", ErrProtocol, m.Type)
	}
	if !inbound[role][m.Type] {
		return Message{}, fmt.Errorf("%w: %s may not send %q", ErrProtocol, role, m.Type)
	}
	if m.Type == TypeCommand && m.Name == "" {
		return Message{}, fmt.Errorf("%w: command without a name", ErrProtocol)
	}
	return m, nil
}

// Known reports whether t is a recognized message type.
func Known(t Type) bool {
	switch t {
	case TypePing, TypePong, TypeCommand, TypeCommandResponse, TypeStatus,
		TypeDebug, TypeConnected, TypeDisconnect, TypeFullStatus:
		return true
	}
	return false
}

// Command names scanners understand.
const (
	CommandPause      = "pause"
	CommandResume     = "resume"
	CommandClick      = "click"
	CommandRestart    = "restart"
	CommandScreenshot = "screenshot"
	CommandFullStatus = "fullStatus"
	CommandGetJSON    = "getJson"
	CommandGetImages  = "getImages"
	CommandLogHistory = "logHistory"
)

// KnownCommand reports whether name is a command scanners implement.
// Unknown names are still forwarded; scanners reply with an error.
func KnownCommand(name string) bool {
	switch name {
	case CommandPause, CommandResume, CommandClick, CommandRestart, CommandScreenshot,
		CommandFullStatus, CommandGetJSON, CommandGetImages, CommandLogHistory:
		return true
	}
	return false
}

// Settings is what a scanner reports about itself at handshake and in
// status updates.
type Settings struct {
	ScanMode            string `json:"scanMode,omitempty"`
	FleaMarketAvailable bool   `json:"fleaMarketAvailable"`
}

// StatusData is the payload of a status message.
type StatusData struct {
	Status   string    `json:"status"`
	Settings *Settings `json:"settings,omitempty"`
}

// Marshal builds a message whose data is v encoded as JSON.
func Marshal(t Type, v any) (Message, error) {
	m := Message{Type: t}
	if v == nil {
		return m, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Message{}, fmt.Errorf("encoding %s data: %w", t, err)
	}
	m.Data = data
	return m, nil
}
