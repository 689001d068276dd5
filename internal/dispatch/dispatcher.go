// Package dispatch turns inbound realtime frames into validated, authorized,
// transactional mutations followed by an ack and room broadcasts.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"collab-service/internal/apperrors"
	"collab-service/internal/observability"
	"collab-service/internal/permissions"
	"collab-service/internal/repositories"
	"collab-service/internal/telemetry"
)

const (
	msgUnknownEvent = "Unknown event"
	msgInternal     = "Internal error"
)

// Event declares one inbound event: its payload schema P, where and what to
// authorize, the handler and the echo policy.
type Event[P any] struct {
	Name string
	// Scope locates the actor's membership. Nil skips authorization.
	Scope   func(p *P) permissions.Scope
	Require permissions.Requirement
	Handle  func(c *Context, p *P) (any, error)
	// Echo lists the rooms that receive the handler result under Name.
	// Nil means the result goes to the sender's ack only.
	Echo          func(p *P) []string
	IncludeSender bool
	// Code overrides the success ack code (200 by default).
	Code int
	// Audit records successful runs on the audit exchange.
	Audit bool
}

// Publisher forwards committed domain events to asynchronous collaborators.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// DisconnectHook runs when a connection goes away, with the rooms it had joined.
type DisconnectHook func(ctx context.Context, conn Conn, rooms []string)

type outcome struct {
	ack     AckBody
	err     error
	result  any
	effects []effect
	echo    []string
}

type entry struct {
	event         string
	includeSender bool
	audit         bool
	run           func(ctx context.Context, conn Conn, raw json.RawMessage) outcome
}

// Dispatcher holds the registration table and runs the event pipeline.
type Dispatcher struct {
	store     repositories.Store
	gate      *permissions.Gate
	rooms     Rooms
	validate  *validator.Validate
	publisher Publisher
	audit     *telemetry.AuditEmitter
	tracer    trace.Tracer

	events map[string]*entry
	hooks  []DisconnectHook
}

// Option configures optional collaborators.
type Option func(*Dispatcher)

func WithPublisher(p Publisher) Option {
	return func(d *Dispatcher) { d.publisher = p }
}

func WithAudit(a *telemetry.AuditEmitter) Option {
	return func(d *Dispatcher) { d.audit = a }
}

// New builds a Dispatcher with an empty registration table.
func New(store repositories.Store, gate *permissions.Gate, rooms Rooms, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:    store,
		gate:     gate,
		rooms:    rooms,
		validate: newValidator(),
		tracer:   otel.Tracer("collab-service/dispatch"),
		events:   map[string]*entry{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register adds ev to d's table. Registering a name twice panics.
func Register[P any](d *Dispatcher, ev Event[P]) {
	if _, dup := d.events[ev.Name]; dup {
		panic(fmt.Sprintf("dispatch: event %q registered twice", ev.Name))
	}
	if ev.Handle == nil {
		panic(fmt.Sprintf("dispatch: event %q has no handler", ev.Name))
	}

	d.events[ev.Name] = &entry{
		event:         ev.Name,
		includeSender: ev.IncludeSender,
		audit:         ev.Audit,
		run: func(ctx context.Context, conn Conn, raw json.RawMessage) outcome {
			var payload P
			if err := d.decode(raw, &payload); err != nil {
				return failure(err)
			}

			var result any
			c, err := d.execute(ctx, conn, func(c *Context) error {
				if ev.Scope != nil {
					access, err := d.gate.Check(c.Ctx, c.Tx, conn.UserID(), ev.Scope(&payload), ev.Require)
					if err != nil {
						return err
					}
					c.Access = access
				}
				var err error
				result, err = ev.Handle(c, &payload)
				return err
			})
			if err != nil {
				return failure(err)
			}

			code := ev.Code
			if code == 0 {
				code = http.StatusOK
			}
			out := outcome{ack: AckBody{Code: code, Data: result}, result: result, effects: c.effects}
			if ev.Echo != nil {
				out.echo = ev.Echo(&payload)
			}
			return out
		},
	}
}

// Events lists registered event names.
func (d *Dispatcher) Events() []string {
	names := make([]string, 0, len(d.events))
	for name := range d.events {
		names = append(names, name)
	}
	return names
}

// Dispatch runs one inbound frame to completion. Callers invoke it
// sequentially per connection, which keeps each connection's events in
// receipt order.
func (d *Dispatcher) Dispatch(ctx context.Context, conn Conn, frame Frame) {
	start := time.Now()
	ctx, span := d.tracer.Start(ctx, "dispatch."+frame.Event, trace.WithAttributes(
		attribute.String("realtime.event", frame.Event),
		attribute.Int("realtime.user_id", conn.UserID()),
	))
	defer span.End()

	e, ok := d.events[frame.Event]
	if !ok {
		d.sendAck(conn, frame.Ack, AckBody{Code: http.StatusBadRequest, Message: msgUnknownEvent})
		log.Printf("dispatch: unknown event=%q user=%d conn=%s", frame.Event, conn.UserID(), conn.ID())
		observability.ObserveDispatch("unknown", http.StatusBadRequest, time.Since(start))
		return
	}

	out := e.run(ctx, conn, frame.Data)
	d.sendAck(conn, frame.Ack, out.ack)

	if out.err != nil {
		if out.ack.Code >= http.StatusInternalServerError {
			log.Printf("dispatch: event=%s user=%d conn=%s failed: %v", e.event, conn.UserID(), conn.ID(), out.err)
			span.RecordError(out.err)
			span.SetStatus(codes.Error, out.err.Error())
		}
	} else {
		d.broadcast(conn, e, out)
		d.applyEffects(conn, out.effects)
		d.publish(ctx, conn, e, out.result)
	}
	span.SetAttributes(attribute.Int("realtime.code", out.ack.Code))
	observability.ObserveDispatch(e.event, out.ack.Code, time.Since(start))
}

// Run executes fn inside one transaction on behalf of conn and applies the
// effects it queued once the transaction commits. Used for server-initiated
// work such as presence cleanup.
func (d *Dispatcher) Run(ctx context.Context, conn Conn, fn func(c *Context) error) error {
	c, err := d.execute(ctx, conn, fn)
	if err != nil {
		return err
	}
	d.applyEffects(conn, c.effects)
	return nil
}

// OnDisconnect registers a hook called by Disconnect.
func (d *Dispatcher) OnDisconnect(h DisconnectHook) {
	d.hooks = append(d.hooks, h)
}

// Disconnect runs the disconnect hooks for conn.
func (d *Dispatcher) Disconnect(ctx context.Context, conn Conn, rooms []string) {
	for _, h := range d.hooks {
		h(ctx, conn, rooms)
	}
}

func (d *Dispatcher) execute(ctx context.Context, conn Conn, fn func(c *Context) error) (*Context, error) {
	c := &Context{Ctx: ctx, Conn: conn, Access: permissions.Access{UserID: conn.UserID()}, rooms: d.rooms}
	err := d.store.InTx(ctx, func(tx repositories.Tx) error {
		c.Tx = tx
		c.effects = nil
		return fn(c)
	})
	c.Tx = nil
	if err != nil {
		return nil, err
	}
	return c, nil
}

func failure(err error) outcome {
	appErr, ok := apperrors.As(err)
	if !ok {
		return outcome{err: err, ack: AckBody{Code: http.StatusInternalServerError, Message: msgInternal}}
	}
	return outcome{err: err, ack: AckBody{Code: appErr.Code.Status(), Message: appErr.Message, Fields: appErr.Fields}}
}

// sendAck answers a frame that asked for one. Frames without an ack id are
// fire-and-forget.
func (d *Dispatcher) sendAck(conn Conn, ackID string, body AckBody) {
	if ackID == "" {
		return
	}
	payload, err := Encode(AckEvent, ackID, body)
	if err != nil {
		log.Printf("dispatch: encode ack: %v", err)
		return
	}
	if err := conn.Send(payload); err != nil {
		log.Printf("dispatch: send ack to conn=%s: %v", conn.ID(), err)
	}
}

func (d *Dispatcher) broadcast(conn Conn, e *entry, out outcome) {
	if len(out.echo) == 0 {
		return
	}
	payload, err := Encode(e.event, "", out.result)
	if err != nil {
		log.Printf("dispatch: encode %s broadcast: %v", e.event, err)
		return
	}
	var except Conn
	if !e.includeSender {
		except = conn
	}
	for _, room := range out.echo {
		d.rooms.Broadcast(room, payload, except)
	}
}

func (d *Dispatcher) applyEffects(conn Conn, effects []effect) {
	for _, ef := range effects {
		switch ef.kind {
		case effectBroadcast, effectNotify:
			payload, err := Encode(ef.event, "", ef.data)
			if err != nil {
				log.Printf("dispatch: encode %s: %v", ef.event, err)
				continue
			}
			if ef.kind == effectNotify {
				d.rooms.NotifyUser(ef.userID, payload)
				continue
			}
			var except Conn
			if !ef.includeSender {
				except = conn
			}
			d.rooms.Broadcast(ef.room, payload, except)
		case effectJoin:
			d.rooms.Join(ef.room, conn)
		case effectLeave:
			d.rooms.Leave(ef.room, conn)
		case effectLeaveUser:
			d.rooms.LeaveUser(ef.room, ef.userID)
		case effectCloseRoom:
			d.rooms.CloseRoom(ef.room)
		}
	}
}

func (d *Dispatcher) publish(ctx context.Context, conn Conn, e *entry, result any) {
	requestID := uuid.NewString()
	if d.publisher != nil {
		envelope := observability.EventEnvelope{
			EventType: "realtime_events",
			EventName: e.event,
			Payload: map[string]any{
				"user_id":    conn.UserID(),
				"conn_id":    conn.ID(),
				"request_id": requestID,
				"data":       result,
			},
		}
		if err := d.publisher.Publish(ctx, "realtime."+e.event, envelope); err != nil {
			observability.IncAMQPPublishError()
			log.Printf("dispatch: publish %s: %v", e.event, err)
		}
	}
	if e.audit {
		d.audit.EmitAction(ctx, e.event, requestID, conn.UserID(), map[string]any{"conn_id": conn.ID()})
	}
}
