package dispatch

import (
	"encoding/json"

	"collab-service/internal/apperrors"
)

// AckEvent is the event name of acknowledgement frames.
const AckEvent = "ack"

// Frame is the JSON envelope exchanged over the websocket.
type Frame struct {
	Event string          `json:"event"`
	Ack   string          `json:"ack,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// AckBody is the data of an ack frame: {code, message} or {code, data}.
type AckBody struct {
	Code    int                    `json:"code"`
	Message string                 `json:"message,omitempty"`
	Fields  []apperrors.FieldError `json:"fields,omitempty"`
	Data    any                    `json:"data,omitempty"`
}

// Encode builds an outbound frame.
func Encode(event, ack string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Ack: ack, Data: raw})
}

// Conn is one live client connection.
type Conn interface {
	ID() string
	UserID() int
	Send(payload []byte) error
}

// Rooms multicasts frames to groups of connections.
type Rooms interface {
	Join(room string, c Conn)
	Leave(room string, c Conn)
	LeaveUser(room string, userID int)
	CloseRoom(room string)
	Joined(room string, c Conn) bool
	Broadcast(room string, payload []byte, except Conn) int
	NotifyUser(userID int, payload []byte) int
}
