// Package router is the command router (C6), the heart of the control
// plane: it deduplicates submissions by (deviceId, idempotencyKey),
// enqueues on a bounded in-memory queue, dispatches through the
// circuit breaker and retry executor via the device hub, and
// reconciles each command with a response timeout.
package router

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/goranbacvar/Cyviz/internal/apperr"
	"github.com/goranbacvar/Cyviz/internal/breaker"
	"github.com/goranbacvar/Cyviz/internal/broadcast"
	"github.com/goranbacvar/Cyviz/internal/chaos"
	"github.com/goranbacvar/Cyviz/internal/devicehub"
	"github.com/goranbacvar/Cyviz/internal/logging"
	"github.com/goranbacvar/Cyviz/internal/metrics"
	"github.com/goranbacvar/Cyviz/internal/model"
	"github.com/goranbacvar/Cyviz/internal/retry"
	"github.com/goranbacvar/Cyviz/internal/store"
	"github.com/goranbacvar/Cyviz/internal/tracing"
)

// EnqueueResult is the outcome of a submission, translated to
// transport status by the submission facade (C9).
type EnqueueResult struct {
	CommandID string
	QueueFull bool
}

// Router owns the in-flight dispatch queue and the breaker registry,
// and drains the queue with a single worker goroutine.
type Router struct {
	store     *store.Store
	devices   *devicehub.Hub
	breakers  *breaker.Registry
	broadcast *broadcast.Hub
	chaos     chaos.Knobs
	retryCfg  retry.Config
	respWait  time.Duration

	queue chan string // command ids awaiting dispatch
	done  chan struct{}
}

// New constructs a Router. Start must be called to begin draining.
func New(st *store.Store, devices *devicehub.Hub, breakers *breaker.Registry, bc *broadcast.Hub, ch chaos.Knobs, retryCfg retry.Config, queueCapacity int, respWait time.Duration) *Router {
	return &Router{
		store:     st,
		devices:   devices,
		breakers:  breakers,
		broadcast: bc,
		chaos:     ch,
		retryCfg:  retryCfg,
		respWait:  respWait,
		queue:     make(chan string, queueCapacity),
		done:      make(chan struct{}),
	}
}

// Start launches the single-consumer worker loop in its own goroutine
// and returns immediately; the worker exits once ctx is cancelled or
// Stop is called.
func (r *Router) Start(ctx context.Context) {
	go r.worker(ctx)
}

// Stop signals the worker to exit after its current command.
func (r *Router) Stop() {
	close(r.done)
}

// Enqueue implements C6's resolution algorithm: dedupe lookup,
// non-blocking bounded enqueue before persistence, and duplicate-key
// race reconciliation.
func (r *Router) Enqueue(ctx context.Context, deviceID, idempotencyKey, verb string) (EnqueueResult, error) {
	ctx, span := tracing.Tracer().Start(ctx, "router.enqueue")
	defer span.End()
	span.SetAttributes(attribute.String("device_id", deviceID), attribute.String("verb", verb))

	if existing, err := r.store.FindCommandByKey(ctx, deviceID, idempotencyKey); err == nil {
		return EnqueueResult{CommandID: existing.ID}, nil
	} else if !apperr.Is(err, apperr.ErrNotFound) {
		return EnqueueResult{}, err
	}

	id := uuid.NewString()

	select {
	case r.queue <- id:
	default:
		// I-5: the command is only persisted after it enters the
		// queue, so a full queue means nothing to roll back.
		return EnqueueResult{QueueFull: true}, nil
	}

	cmd := &model.Command{
		ID:             id,
		DeviceID:       deviceID,
		IdempotencyKey: idempotencyKey,
		Verb:           verb,
		CreatedAt:      time.Now(),
		Status:         model.CommandPending,
	}
	if err := r.store.CreateCommand(ctx, cmd); err != nil {
		if apperr.Is(err, apperr.ErrDuplicateKey) {
			// Two concurrent submissions raced past the dedupe lookup;
			// the queued entry for `id` is discarded on dequeue below
			// because its status lookup will not find a pending row.
			existing, ferr := r.store.FindCommandByKey(ctx, deviceID, idempotencyKey)
			if ferr != nil {
				return EnqueueResult{}, ferr
			}
			return EnqueueResult{CommandID: existing.ID}, nil
		}
		return EnqueueResult{}, err
	}

	metrics.CommandsEnqueued.WithLabelValues(verb).Inc()
	metrics.QueueDepth.Set(float64(len(r.queue)))

	go r.scheduleTimeout(id)

	return EnqueueResult{CommandID: id}, nil
}

func (r *Router) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case id := <-r.queue:
			metrics.QueueDepth.Set(float64(len(r.queue)))
			r.dispatch(ctx, id)
		}
	}
}

func (r *Router) dispatch(ctx context.Context, commandID string) {
	ctx, span := tracing.Tracer().Start(ctx, "router.dispatch")
	defer span.End()

	cmd, err := r.store.GetCommand(ctx, commandID)
	if err != nil {
		// Best-effort discard: this id was queued but never
		// persisted (the enqueuer hit a duplicate-key race).
		return
	}
	if cmd.Status != model.CommandPending {
		return
	}

	if r.breakers.State(cmd.DeviceID).String() == "open" {
		logging.Info("dispatch_skip", "", "breaker open", map[string]any{"commandId": commandID, "deviceId": cmd.DeviceID})
		return
	}

	if r.chaos.Inject(ctx) {
		r.fail(ctx, cmd, "dropped", time.Since(cmd.CreatedAt))
		return
	}

	start := time.Now()
	_, err = r.breakers.Execute(cmd.DeviceID, func() (any, error) {
		return nil, retry.Do(ctx, r.retryCfg, func(int) error {
			if !r.devices.SendCommand(cmd.DeviceID, cmd.ID, cmd.Verb) {
				return fmt.Errorf("router: command %s not delivered to device %s", cmd.ID, cmd.DeviceID)
			}
			return nil
		})
	})

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		r.fail(ctx, cmd, "send failed: "+err.Error(), time.Since(start))
		return
	}

	metrics.DispatchLatency.Observe(time.Since(start).Seconds())
	// Dispatch success only means the frame left the process; the
	// command stays pending until commandResult arrives or the
	// response-timeout reconciler fires.
}

func (r *Router) fail(ctx context.Context, cmd *model.Command, reason string, latency time.Duration) {
	if err := r.store.UpdateCommandTerminal(ctx, cmd.ID, model.CommandFailed, reason, latency.Milliseconds()); err != nil {
		if !apperr.Is(err, apperr.ErrNotFound) {
			logging.Error("command_fail_persist", "fail", err.Error(), map[string]any{"commandId": cmd.ID})
		}
		return
	}
	metrics.CommandsCompleted.WithLabelValues("failed").Inc()
	cmd.Status = model.CommandFailed
	cmd.Result = &reason
	r.broadcast.CommandCompleted(cmd)
}

// timeoutReason reports the failure reason a still-pending command
// should carry once its response wait elapses: "circuit open" if the
// device's breaker is tripped (§7), "timeout" otherwise.
func (r *Router) timeoutReason(deviceID string) string {
	if r.breakers.State(deviceID).String() == "open" {
		return "circuit open"
	}
	return "timeout"
}

// scheduleTimeout runs the per-command response-timeout reconciler
// (T_resp): if the command is still pending after respWait, it is
// failed with reason "timeout", or "circuit open" if its breaker is
// tripped (dispatch skips a breaker-open command and leaves it pending
// for this reconciler, per §7). This mirrors the teacher's
// register-a-callback-and-wait event-correlation idiom, adapted into
// a bare timer since there is no reply to correlate against here.
func (r *Router) scheduleTimeout(commandID string) {
	timer := time.NewTimer(r.respWait)
	defer timer.Stop()
	<-timer.C

	ctx := context.Background()
	cmd, err := r.store.GetCommand(ctx, commandID)
	if err != nil || cmd.Status != model.CommandPending {
		return
	}
	r.fail(ctx, cmd, r.timeoutReason(cmd.DeviceID), r.respWait)
}

// ReconcilePending re-applies the response-timeout rule to every
// command still pending at startup (the fire-and-forget timeout task
// does not survive a process restart; see SPEC_FULL's startup
// reconciliation scan).
func (r *Router) ReconcilePending(ctx context.Context) error {
	pending, err := r.store.ListPendingCommands(ctx)
	if err != nil {
		return err
	}
	for _, cmd := range pending {
		cmd := cmd
		age := time.Since(cmd.CreatedAt)
		if age >= r.respWait {
			r.fail(ctx, &cmd, r.timeoutReason(cmd.DeviceID), age)
			continue
		}
		go func() {
			time.Sleep(r.respWait - age)
			c, err := r.store.GetCommand(context.Background(), cmd.ID)
			if err != nil || c.Status != model.CommandPending {
				return
			}
			r.fail(context.Background(), c, r.timeoutReason(c.DeviceID), time.Since(c.CreatedAt))
		}()
	}
	return nil
}

// CommandResult applies a device-reported outcome to a command (the
// inbound half of C4's commandResult contract, wired here so the
// router owns all terminal transitions).
func (r *Router) CommandResult(ctx context.Context, result devicehub.CommandResult) {
	ctx, span := tracing.Tracer().Start(ctx, "router.result")
	defer span.End()

	cmd, err := r.store.GetCommand(ctx, result.CommandID)
	if err != nil {
		logging.Info("command_result_unknown", "", "", map[string]any{"commandId": result.CommandID})
		return
	}
	if cmd.Status != model.CommandPending {
		return
	}

	status := model.CommandFailed
	if result.Status == "Completed" {
		status = model.CommandCompleted
	}
	latency := time.Since(cmd.CreatedAt).Milliseconds()
	if err := r.store.UpdateCommandTerminal(ctx, cmd.ID, status, result.Result, latency); err != nil {
		if !apperr.Is(err, apperr.ErrNotFound) {
			logging.Error("command_result_persist", "fail", err.Error(), map[string]any{"commandId": cmd.ID})
		}
		return
	}

	outcome := "failed"
	if status == model.CommandCompleted {
		outcome = "completed"
	}
	metrics.CommandsCompleted.WithLabelValues(outcome).Inc()

	cmd.Status = status
	cmd.Result = &result.Result
	cmd.LatencyMs = &latency
	r.broadcast.CommandCompleted(cmd)
}
