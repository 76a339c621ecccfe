package reminder

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"remindbot/internal/eventbus"
	logx "remindbot/pkg/logx"
)

// Event types published by the dispatcher and the inbound handler.
const (
	EventCreated        = "reminder.created"
	EventDelivered      = "reminder.delivered"
	EventDeliveryFailed = "reminder.delivery_failed"
	EventTick           = "reminder.tick"
)

// TickReport summarizes one dispatch tick.
type TickReport struct {
	Started time.Time
	Took    time.Duration
	Due     int
	Sent    int
	Failed  int
	// MarkFailed counts deliveries that succeeded but could not be recorded;
	// those tasks will be delivered again on a later tick.
	MarkFailed int
	// Skipped is set when another tick was still scanning.
	Skipped bool
	ScanErr error
}

// Dispatcher delivers due tasks. Worst-case delivery latency is one polling interval.
type Dispatcher struct {
	store   TaskStore
	channel DeliveryChannel
	log     logx.Logger
	bus     eventbus.Bus

	running sync.Mutex
}

type DispatcherOption func(*Dispatcher)

func WithDispatchLogger(log logx.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.log = log }
}

func WithEventBus(bus eventbus.Bus) DispatcherOption {
	return func(d *Dispatcher) { d.bus = bus }
}

func NewDispatcher(store TaskStore, channel DeliveryChannel, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{store: store, channel: channel}
	for _, o := range opts {
		o(d)
	}
	if d.log.IsZero() {
		d.log = logx.Nop()
	}
	return d
}

// RunTick performs one scan-and-deliver pass at now. A failed delivery leaves
// the task unsent so the next tick retries it; one task's failure never
// stops the rest of the scan.
func (d *Dispatcher) RunTick(ctx context.Context, now time.Time) (rep TickReport) {
	rep.Started = time.Now()
	if !d.running.TryLock() {
		rep.Skipped = true
		d.log.Warn("dispatch tick skipped; previous tick still running")
		return rep
	}
	defer d.running.Unlock()
	defer func() {
		rep.Took = time.Since(rep.Started)
		d.publish(EventTick, rep)
	}()

	due, err := d.store.Due(ctx, now)
	if err != nil {
		rep.ScanErr = err
		d.log.Error("due scan failed", logx.Err(err))
		return rep
	}
	rep.Due = len(due)
	if len(due) > 0 {
		d.log.Info("due reminders found", logx.Int("count", len(due)))
	}

	for _, t := range due {
		if ctx.Err() != nil {
			break
		}
		switch d.deliver(ctx, t, now) {
		case outcomeSent:
			rep.Sent++
		case outcomeMarkFailed:
			rep.Sent++
			rep.MarkFailed++
		default:
			rep.Failed++
		}
	}
	return rep
}

type deliveryOutcome int

const (
	outcomeFailed deliveryOutcome = iota
	outcomeSent
	outcomeMarkFailed
)

func (d *Dispatcher) deliver(ctx context.Context, t Task, now time.Time) (out deliveryOutcome) {
	log := d.log.With(logx.Int64("task_id", t.ID), logx.String("owner", t.OwnerID))
	defer func() {
		if r := recover(); r != nil {
			log.Error("delivery panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			d.publish(EventDeliveryFailed, t)
			out = outcomeFailed
		}
	}()

	if !d.channel.Send(ctx, t.OwnerID, FormatReminderBody(t.TaskDescription)) {
		log.Warn("reminder delivery failed; will retry next tick")
		d.publish(EventDeliveryFailed, t)
		return outcomeFailed
	}

	ok, err := d.store.MarkSent(ctx, t.ID, now)
	if err != nil || !ok {
		if err == nil {
			err = fmt.Errorf("task %d not found", t.ID)
		}
		log.Error("mark sent failed; reminder may be delivered again", logx.Err(err))
		d.publish(EventDelivered, t)
		return outcomeMarkFailed
	}
	log.Info("reminder sent")
	d.publish(EventDelivered, t)
	return outcomeSent
}

func (d *Dispatcher) publish(typ string, data any) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(eventbus.Event{Type: typ, Data: data})
}
