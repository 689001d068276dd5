package mocks

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/stretchr/testify/mock"

	"collab-service/internal/dispatch"
	"collab-service/internal/identity"
	"collab-service/internal/ws"
)

type ResolverMock struct {
	mock.Mock
}

func (m *ResolverMock) Resolve(ctx context.Context, token string) (int, error) {
	args := m.Called(ctx, token)
	return args.Int(0), args.Error(1)
}

type RelayMock struct {
	mock.Mock
}

func (m *RelayMock) Publish(ctx context.Context, msg ws.RelayMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

// Conn is a dispatch.Conn that records every frame sent to it.
type Conn struct {
	ConnID string
	User   int
	Fail   bool

	mu     sync.Mutex
	frames []dispatch.Frame
}

func NewConn(id string, userID int) *Conn {
	return &Conn{ConnID: id, User: userID}
}

func (c *Conn) ID() string  { return c.ConnID }
func (c *Conn) UserID() int { return c.User }

func (c *Conn) Send(payload []byte) error {
	if c.Fail {
		return errors.New("connection closed")
	}
	var frame dispatch.Frame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame)
	return nil
}

// Frames returns a copy of the frames received so far.
func (c *Conn) Frames() []dispatch.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]dispatch.Frame(nil), c.frames...)
}

// Events returns the event names received so far, in order.
func (c *Conn) Events() []string {
	frames := c.Frames()
	names := make([]string, len(frames))
	for i, f := range frames {
		names[i] = f.Event
	}
	return names
}

// Last returns the most recent frame named event.
func (c *Conn) Last(event string) (dispatch.Frame, bool) {
	frames := c.Frames()
	for i := len(frames) - 1; i >= 0; i-- {
		if frames[i].Event == event {
			return frames[i], true
		}
	}
	return dispatch.Frame{}, false
}

// LastAck decodes the most recent ack frame.
func (c *Conn) LastAck() (dispatch.AckBody, json.RawMessage, bool) {
	frame, ok := c.Last(dispatch.AckEvent)
	if !ok {
		return dispatch.AckBody{}, nil, false
	}
	var body struct {
		dispatch.AckBody
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(frame.Data, &body); err != nil {
		return dispatch.AckBody{}, nil, false
	}
	return body.AckBody, body.Data, true
}

// Reset drops recorded frames.
func (c *Conn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

var _ dispatch.Conn = (*Conn)(nil)
var _ identity.Resolver = (*ResolverMock)(nil)
var _ ws.Relay = (*RelayMock)(nil)
