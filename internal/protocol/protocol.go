// Package protocol implements the wire codec for the chat protocol: one
// textual command or reply per transport message, fields delimited by ';'.
// Fields are raw text and must not contain the delimiter; there is no
// escaping. The codec holds no state.
package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Delimiter separates fields within a command or reply.
const Delimiter = ";"

// NoPassword is the sentinel a client sends in place of a password when
// joining an unprotected room.
const NoPassword = "NO_PASSWORD"

// Command verbs as they appear on the wire.
const (
	verbCreateRoom     = "CREATE_ROOM"
	verbJoinRoom       = "JOIN_ROOM"
	verbMessageRoom    = "MESSAGE_ROOM"
	verbDisconnectRoom = "DISCONNECT_ROOM"
	verbDisconnect     = "DISCONNECT"
)

// Server replies.
const (
	ReplyCreateSuccess   = "CREATE_SUCCESS"
	ReplyJoinSuccess     = "JOIN_SUCCESS"
	ReplyExistingUser    = "EXISTING_USER"
	ReplyRoomFull        = "ROOM_FULL"
	ReplyInvalidPassword = "INVALID_PASSWORD"
	ReplyNoRoom          = "NO_ROOM"
	ReplyNoRooms         = "NO_ROOMS"
	ReplyRoomExists      = "ROOM_EXISTS"
	ReplyProtocolError   = "PROTOCOL_ERROR"
	ReplyServerShutdown  = "SERVER_SHUTDOWN"

	replyUpdateData = "UPDATE_DATA"
	replyMessage    = "MESSAGE"

	// ServerSender is the sender name used for join/leave notices.
	ServerSender = "Server"
)

// Command is one decoded client command. The concrete types below are the
// only implementations.
type Command interface {
	Verb() string
}

// CreateRoom asks the server to create a room and join the creator to it.
// Wire: CREATE_ROOM;<name>;<password|empty>;<currentUsers>;<maxUsers>;<clientName>
type CreateRoom struct {
	Name         string
	Password     string
	CurrentUsers int
	MaxUsers     int
	ClientName   string
}

// JoinRoom asks the server to add the client to an existing room.
// Wire: JOIN_ROOM;<name>;<password|"NO_PASSWORD">;<clientName>
type JoinRoom struct {
	Name       string
	Password   string
	ClientName string
}

// MessageRoom broadcasts text to the other members of a room.
// Wire: MESSAGE_ROOM;<name>;<text>;<sender>
type MessageRoom struct {
	Name   string
	Text   string
	Sender string
}

// LeaveRoom removes the sender from a room without dropping the connection.
// Wire: DISCONNECT_ROOM;<name>;<sender>
type LeaveRoom struct {
	Name   string
	Sender string
}

// Disconnect ends the session. Wire: DISCONNECT
type Disconnect struct{}

func (CreateRoom) Verb() string  { return verbCreateRoom }
func (JoinRoom) Verb() string    { return verbJoinRoom }
func (MessageRoom) Verb() string { return verbMessageRoom }
func (LeaveRoom) Verb() string   { return verbDisconnectRoom }
func (Disconnect) Verb() string  { return verbDisconnect }

// ParseError describes a malformed command. Sessions reply PROTOCOL_ERROR and
// keep the connection open.
type ParseError struct {
	Verb   string
	Reason string
}

func (e *ParseError) Error() string {
	if e.Verb == "" {
		return "protocol: " + e.Reason
	}
	return fmt.Sprintf("protocol: %s: %s", e.Verb, e.Reason)
}

// Expected field counts per verb, including the verb field itself.
var fieldCounts = map[string]int{
	verbCreateRoom:     6,
	verbJoinRoom:       4,
	verbMessageRoom:    4,
	verbDisconnectRoom: 3,
	verbDisconnect:     1,
}

// Parse decodes one raw message into a Command. Any mismatch in verb, field
// count, or numeric field yields a *ParseError.
func Parse(raw []byte) (Command, error) {
	line := strings.TrimRight(string(raw), "\r\n")
	if line == "" {
		return nil, &ParseError{Reason: "empty command"}
	}

	fields := strings.Split(line, Delimiter)
	verb := fields[0]

	want, ok := fieldCounts[verb]
	if !ok {
		return nil, &ParseError{Verb: verb, Reason: "unknown command"}
	}
	if len(fields) != want {
		return nil, &ParseError{
			Verb:   verb,
			Reason: fmt.Sprintf("expected %d fields, got %d", want, len(fields)),
		}
	}

	switch verb {
	case verbCreateRoom:
		current, err := parseCount(verb, "currentUsers", fields[3])
		if err != nil {
			return nil, err
		}
		capacity, err := parseCount(verb, "maxUsers", fields[4])
		if err != nil {
			return nil, err
		}
		return CreateRoom{
			Name:         fields[1],
			Password:     fields[2],
			CurrentUsers: current,
			MaxUsers:     capacity,
			ClientName:   fields[5],
		}, nil
	case verbJoinRoom:
		return JoinRoom{Name: fields[1], Password: fields[2], ClientName: fields[3]}, nil
	case verbMessageRoom:
		return MessageRoom{Name: fields[1], Text: fields[2], Sender: fields[3]}, nil
	case verbDisconnectRoom:
		return LeaveRoom{Name: fields[1], Sender: fields[2]}, nil
	default:
		return Disconnect{}, nil
	}
}

// parseCount parses a base-10 non-negative integer field. A parse failure or
// a negative value is a decode failure, never a silent default.
func parseCount(verb, field, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, &ParseError{Verb: verb, Reason: fmt.Sprintf("%s is not an integer: %q", field, value)}
	}
	if n < 0 {
		return 0, &ParseError{Verb: verb, Reason: fmt.Sprintf("%s is negative: %d", field, n)}
	}
	return n, nil
}

// RoomInfo is one row of the room-list snapshot sent to clients.
type RoomInfo struct {
	Name         string
	Password     string
	CurrentUsers int
	MaxUsers     int
}

// EncodeRoomList serializes the snapshot as one line per room
// (name;password;currentUsers;maxUsers) separated by newlines. The password
// field is empty for unprotected rooms.
func EncodeRoomList(rooms []RoomInfo) string {
	lines := make([]string, 0, len(rooms))
	for _, r := range rooms {
		lines = append(lines, strings.Join([]string{
			r.Name,
			r.Password,
			strconv.Itoa(r.CurrentUsers),
			strconv.Itoa(r.MaxUsers),
		}, Delimiter))
	}
	return strings.Join(lines, "\n")
}

// EncodeUpdate builds the UPDATE_DATA reply carrying the room-list snapshot.
func EncodeUpdate(rooms []RoomInfo) []byte {
	return []byte(replyUpdateData + Delimiter + EncodeRoomList(rooms))
}

// EncodeMessage builds the MESSAGE reply delivered to room members.
func EncodeMessage(sender, text string) []byte {
	return []byte(replyMessage + Delimiter + sender + Delimiter + text)
}
