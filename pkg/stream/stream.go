package stream

import (
	"context"
	"net/http"
	"reflect"
	"runtime"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/rxtech-lab/argo-stream/internal/logger"
	"github.com/rxtech-lab/argo-stream/internal/version"
	"github.com/rxtech-lab/argo-stream/pkg/errors"
	"github.com/rxtech-lab/argo-stream/pkg/transport"
)

// Handler receives every decoded message. It runs on the worker goroutine, so
// a slow handler slows the stream down. A returned error (or a panic) is a
// callback failure handled according to Config.CallbackPolicy.
type Handler func(msg Message) error

// Option customizes a Stream.
type Option func(*options)

type options struct {
	log     *logger.Logger
	dialer  transport.Dialer
	onError func(error)
}

// WithLogger sets the logger used by the stream and its worker. Without it the
// stream logs nothing.
func WithLogger(log *logger.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// WithDialer replaces the transport dialer selected by Config.Transport.
func WithDialer(dialer transport.Dialer) Option {
	return func(o *options) {
		o.dialer = dialer
	}
}

// WithErrorHandler registers an observer for faults the worker handles on its
// own: transport failures, malformed frames, feed errors and callback failures
// under the continue policy.
func WithErrorHandler(fn func(error)) Option {
	return func(o *options) {
		o.onError = fn
	}
}

// Stream is a running subscription to one feed.
type Stream struct {
	feed     Feed
	cfg      Config
	registry *Registry
	control  *controlState
	worker   *worker
	log      *logger.Logger
	validate *validator.Validate

	cancel   context.CancelFunc
	done     chan struct{}
	err      error
	stopOnce sync.Once
	stopErr  error
}

// Start validates its arguments and launches the worker for feed. The worker
// keeps running until Stop is called or ctx is cancelled.
func Start(ctx context.Context, feed Feed, handler Handler, cfg Config, opts ...Option) (*Stream, error) {
	if handler == nil {
		return nil, errors.New(errors.ErrCodeInvalidCallback, "handler must not be nil")
	}

	if feed.decode == nil {
		return nil, errors.Newf(errors.ErrCodeInvalidFeed, "feed %q has no decoder", feed.Type)
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{
		log:     nil,
		dialer:  nil,
		onError: nil,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if o.log == nil {
		o.log = logger.NewNop()
	}

	if o.dialer == nil {
		dialer, err := transport.NewDialer(cfg.Transport, cfg.ConnectTimeout)
		if err != nil {
			return nil, err
		}

		o.dialer = dialer
	}

	endpoint, err := feed.URL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	registry := NewRegistry(feed)
	control := newControlState()
	w := newWorker(feed, endpoint, connectHeader(cfg), o.dialer, registry, control, handler, cfg, o.log, o.onError)

	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	s := &Stream{
		feed:     feed,
		cfg:      cfg,
		registry: registry,
		control:  control,
		worker:   w,
		log:      o.log,
		validate: validator.New(),
		cancel:   cancel,
		done:     make(chan struct{}),
		err:      nil,
		stopOnce: sync.Once{},
		stopErr:  nil,
	}

	s.log.Info("Starting stream",
		zap.String("feed", string(feed.Type)),
		zap.String("url", endpoint),
		zap.String("callback", w.handlerName),
		zap.Duration("frequency_limit", cfg.FrequencyLimit),
	)

	stopOnCancel := context.AfterFunc(ctx, func() {
		_ = s.Stop()
	})

	go func() {
		defer close(s.done)
		defer stopOnCancel()

		s.err = w.run(workerCtx)
		if s.err != nil {
			s.log.Error("Stream terminated", zap.Error(s.err))
		}
	}()

	return s, nil
}

// Subscribe adds an instrument to the stream. An empty specifier selects the
// feed default. Subscribing an instrument that is already present does nothing
// and does not reconnect; its original specifier is kept. Once the stream has
// been stopped or its worker has exited, Subscribe fails with
// ErrCodeStreamStopped.
func (s *Stream) Subscribe(instrumentID string, specifier Specifier) error {
	if err := s.checkRunning(); err != nil {
		return err
	}

	if err := s.validate.Var(instrumentID, "required,alphanum"); err != nil {
		return errors.Wrapf(errors.ErrCodeInvalidInstrument, err, "invalid instrument %q", instrumentID)
	}

	resolved, err := s.feed.Resolve(specifier)
	if err != nil {
		return err
	}

	added, err := s.registry.Add(instrumentID, resolved)
	if err != nil {
		return err
	}

	if added {
		s.log.Debug("Subscribed", zap.String("instrument", instrumentID), zap.String("specifier", string(resolved)))
		s.control.requestRestart()
	}

	return nil
}

// Unsubscribe removes an instrument. Removing an instrument that is not
// subscribed is a no-op. Like Subscribe, it fails with ErrCodeStreamStopped
// once the stream has ended.
func (s *Stream) Unsubscribe(instrumentID string) error {
	if err := s.checkRunning(); err != nil {
		return err
	}

	if s.registry.Remove(instrumentID) {
		s.log.Debug("Unsubscribed", zap.String("instrument", instrumentID))
		s.control.requestRestart()
	}

	return nil
}

// Stop clears keepalive and waits up to Config.StopGracePeriod for the worker
// to exit. If the worker does not exit in time its context is cancelled and an
// ErrCodeStopTimeout error is returned. Calling Stop again returns the same
// result without waiting.
func (s *Stream) Stop() error {
	s.stopOnce.Do(func() {
		s.control.shutdown()

		timer := time.NewTimer(s.cfg.StopGracePeriod)
		defer timer.Stop()

		select {
		case <-s.done:
		case <-timer.C:
			s.stopErr = errors.Newf(errors.ErrCodeStopTimeout,
				"worker did not stop within %s", s.cfg.StopGracePeriod)
			s.log.Warn("Stream did not stop in time", zap.Duration("grace_period", s.cfg.StopGracePeriod))
		}

		s.cancel()
	})

	return s.stopErr
}

// Done is closed once the worker has exited.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that terminated the worker, if any. It is only
// meaningful after Done is closed.
func (s *Stream) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// State returns the worker's current state.
func (s *Stream) State() WorkerState {
	return s.worker.currentState()
}

// Stats returns the worker counters.
func (s *Stream) Stats() Stats {
	return s.worker.stats()
}

// Subscriptions returns a copy of the registry.
func (s *Stream) Subscriptions() map[string]Specifier {
	return s.registry.Snapshot()
}

// Feed returns the feed the stream is attached to.
func (s *Stream) Feed() Feed {
	return s.feed
}

func (s *Stream) checkRunning() error {
	select {
	case <-s.done:
		return errors.New(errors.ErrCodeStreamStopped, "stream worker has exited")
	default:
	}

	if !s.control.alive() {
		return errors.New(errors.ErrCodeStreamStopped, "stream is stopping")
	}

	return nil
}

func connectHeader(cfg Config) http.Header {
	header := http.Header{}
	header.Set("User-Agent", version.UserAgent())

	if cfg.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Token)
	}

	return header
}

// handlerName returns the fully qualified name of fn for error attribution.
func handlerName(fn Handler) string {
	if fn == nil {
		return "<nil>"
	}

	if f := runtime.FuncForPC(reflect.ValueOf(fn).Pointer()); f != nil {
		return f.Name()
	}

	return "<unknown>"
}
