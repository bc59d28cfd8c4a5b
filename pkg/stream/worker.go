package stream

import (
	"context"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rxtech-lab/argo-stream/internal/logger"
	"github.com/rxtech-lab/argo-stream/pkg/errors"
	"github.com/rxtech-lab/argo-stream/pkg/transport"
)

// teardownTimeout bounds the best-effort unsubscribe sent before a restart.
const teardownTimeout = time.Second

// sessionEnd says why a connection was given up.
type sessionEnd int

const (
	// endRestart: restart or stop was requested. Reconnect immediately.
	endRestart sessionEnd = iota
	// endFault: transport or decode fault. Reconnect after a backoff delay.
	endFault
	// endFatal: the callback failed under the terminate policy.
	endFatal
)

type workerCounters struct {
	connections       atomic.Int64
	reconnects        atomic.Int64
	delivered         atomic.Int64
	dropped           atomic.Int64
	decodeFailures    atomic.Int64
	transportFailures atomic.Int64
	callbackFailures  atomic.Int64
}

// worker owns the transport connection and runs the
// connect/subscribe/stream/reconnect loop until keepalive is cleared.
type worker struct {
	feed        Feed
	url         string
	header      http.Header
	dialer      transport.Dialer
	registry    *Registry
	control     *controlState
	handler     Handler
	handlerName string
	cfg         Config
	log         *logger.Logger
	onError     func(error)
	now         func() time.Time

	state        atomic.Int32
	counters     workerCounters
	backoff      backoff.BackOff
	lastDelivery time.Time
}

func newWorker(
	feed Feed,
	url string,
	header http.Header,
	dialer transport.Dialer,
	registry *Registry,
	control *controlState,
	handler Handler,
	cfg Config,
	log *logger.Logger,
	onError func(error),
) *worker {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = cfg.Backoff.InitialInterval
	expBackoff.MaxInterval = cfg.Backoff.MaxInterval
	expBackoff.MaxElapsedTime = 0
	expBackoff.Reset()

	return &worker{
		feed:         feed,
		url:          url,
		header:       header,
		dialer:       dialer,
		registry:     registry,
		control:      control,
		handler:      handler,
		handlerName:  handlerName(handler),
		cfg:          cfg,
		log:          log,
		onError:      onError,
		now:          time.Now,
		state:        atomic.Int32{},
		counters:     workerCounters{},
		backoff:      expBackoff,
		lastDelivery: time.Time{},
	}
}

// run drives the state machine. It returns nil once keepalive is cleared, or
// the callback failure that terminated the worker.
func (w *worker) run(ctx context.Context) error {
	defer w.setState(StateTerminated)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Stop aborts an in-flight dial as well as a blocked receive.
	go func() {
		select {
		case <-w.control.stopped:
			cancel()
		case <-ctx.Done():
		}
	}()

	for w.control.alive() {
		end, err := w.session(ctx)

		switch end {
		case endFatal:
			return err
		case endFault:
			w.setState(StateReconnecting)
			w.pause(ctx, w.backoff.NextBackOff())
		case endRestart:
			w.setState(StateReconnecting)
		}

		if w.control.alive() {
			w.counters.reconnects.Add(1)
		}
	}

	return nil
}

// session performs one Connecting -> Subscribing -> Streaming pass.
func (w *worker) session(ctx context.Context) (sessionEnd, error) {
	w.setState(StateConnecting)

	log := w.log.With(
		zap.String("connection_id", uuid.NewString()),
		zap.String("feed", string(w.feed.Type)),
	)

	dialCtx, cancelDial := context.WithTimeout(ctx, w.cfg.ConnectTimeout)
	conn, err := w.dialer.Dial(dialCtx, w.url, w.header)
	cancelDial()

	if err != nil {
		w.counters.transportFailures.Add(1)
		log.Warn("Failed to connect to feed", zap.String("url", w.url), zap.Error(err))
		w.report(err)

		return endFault, nil
	}

	defer func() {
		if err := conn.Close(); err != nil {
			log.Debug("Error closing connection", zap.Error(err))
		}
	}()

	w.counters.connections.Add(1)
	log.Info("Connected to feed", zap.String("url", w.url))

	w.setState(StateSubscribing)

	// Clear restart before the snapshot so that a subscribe racing with this
	// reconnect raises the flag again rather than being dropped.
	w.control.acknowledgeRestart()

	connCtx, cancelConn := context.WithCancel(ctx)
	watched := make(chan struct{})

	// The watcher must be gone before the next session starts, otherwise it
	// could take a wake-up meant for that session's watcher.
	defer func() {
		cancelConn()
		<-watched
	}()

	go func() {
		defer close(watched)
		w.watch(connCtx, cancelConn)
	}()

	replayed := w.registry.Snapshot()
	for _, id := range slices.Sorted(maps.Keys(replayed)) {
		if err := w.send(connCtx, conn, id, replayed[id]); err != nil {
			if connCtx.Err() != nil {
				return endRestart, nil
			}

			w.counters.transportFailures.Add(1)
			log.Warn("Failed to subscribe", zap.String("instrument", id), zap.Error(err))
			w.report(err)

			return endFault, nil
		}
	}

	log.Debug("Subscriptions replayed", zap.Int("count", len(replayed)))

	w.setState(StateStreaming)

	end, err := w.stream(connCtx, conn, log)
	if end == endRestart && w.control.alive() {
		w.teardown(ctx, conn, replayed, log)
	}

	return end, err
}

// watch cancels the connection context when a restart or stop is requested,
// which unblocks a pending receive.
func (w *worker) watch(connCtx context.Context, cancel context.CancelFunc) {
	select {
	case <-w.control.wake:
		cancel()
	case <-w.control.stopped:
		cancel()
	case <-connCtx.Done():
	}
}

func (w *worker) send(ctx context.Context, conn transport.Conn, id string, specifier Specifier) error {
	frame, err := EncodeSubscribe(w.feed, id, specifier)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeTransportSend, err, "failed to encode subscribe for %s", id)
	}

	return conn.Send(ctx, frame)
}

// stream is the Streaming state: receive, decode, throttle, deliver.
func (w *worker) stream(ctx context.Context, conn transport.Conn, log *zap.Logger) (sessionEnd, error) {
	for w.control.alive() && !w.control.restartRequested() {
		if w.cfg.ThrottleMode == ThrottleWait {
			if remaining := w.throttleRemaining(); remaining > 0 {
				w.sleep(ctx, remaining)

				continue
			}
		}

		frame, err := conn.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return endRestart, nil
			}

			w.counters.transportFailures.Add(1)
			log.Warn("Connection lost", zap.Error(err))
			w.report(err)

			return endFault, nil
		}

		msg, err := Decode(w.feed, frame, w.registry.Lookup)
		if err != nil {
			w.counters.decodeFailures.Add(1)
			log.Warn("Failed to decode frame, reconnecting",
				zap.Int("code", int(errors.GetCode(err))),
				zap.ByteString("frame", frame),
				zap.Error(err),
			)
			w.report(err)

			return endFault, nil
		}

		// A healthy frame means the feed is usable again.
		w.backoff.Reset()

		if w.cfg.ThrottleMode == ThrottleDrop && w.throttleRemaining() > 0 {
			w.counters.dropped.Add(1)

			continue
		}

		if err := w.deliver(msg); err != nil {
			w.counters.callbackFailures.Add(1)

			if w.cfg.CallbackPolicy == CallbackTerminate {
				log.Error("Callback failed, stopping worker",
					zap.String("callback", w.handlerName),
					zap.Error(err),
				)

				return endFatal, err
			}

			log.Warn("Callback failed", zap.String("callback", w.handlerName), zap.Error(err))
			w.report(err)

			continue
		}

		w.lastDelivery = w.now()
		w.counters.delivered.Add(1)
	}

	return endRestart, nil
}

// teardown tells the feed to stop pushing instruments that were removed while
// this connection was live. Failures are only logged.
func (w *worker) teardown(ctx context.Context, conn transport.Conn, replayed map[string]Specifier, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(ctx, teardownTimeout)
	defer cancel()

	for _, id := range slices.Sorted(maps.Keys(replayed)) {
		if _, ok := w.registry.Lookup(id); ok {
			continue
		}

		frame, err := EncodeUnsubscribe(id)
		if err != nil {
			continue
		}

		if err := conn.Send(ctx, frame); err != nil {
			log.Debug("Failed to unsubscribe before reconnect", zap.String("instrument", id), zap.Error(err))

			return
		}
	}
}

// deliver invokes the callback, turning errors and panics into CallbackError.
func (w *worker) deliver(msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.NewCallbackError(w.handlerName, fmt.Errorf("panic: %v", r))
		}
	}()

	if cbErr := w.handler(msg); cbErr != nil {
		return errors.NewCallbackError(w.handlerName, cbErr)
	}

	return nil
}

func (w *worker) throttleRemaining() time.Duration {
	if w.cfg.FrequencyLimit <= 0 || w.lastDelivery.IsZero() {
		return 0
	}

	return w.cfg.FrequencyLimit - w.now().Sub(w.lastDelivery)
}

// sleep waits for d or until ctx is done.
func (w *worker) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// pause waits between failed connection attempts.
func (w *worker) pause(ctx context.Context, d time.Duration) {
	if d == backoff.Stop || d <= 0 {
		return
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (w *worker) report(err error) {
	if w.onError != nil {
		w.onError(err)
	}
}

func (w *worker) setState(s WorkerState) {
	w.state.Store(int32(s))
}

func (w *worker) currentState() WorkerState {
	return WorkerState(w.state.Load())
}

func (w *worker) stats() Stats {
	return Stats{
		Connections:       w.counters.connections.Load(),
		Reconnects:        w.counters.reconnects.Load(),
		Delivered:         w.counters.delivered.Load(),
		Dropped:           w.counters.dropped.Load(),
		DecodeFailures:    w.counters.decodeFailures.Load(),
		TransportFailures: w.counters.transportFailures.Load(),
		CallbackFailures:  w.counters.callbackFailures.Load(),
	}
}
