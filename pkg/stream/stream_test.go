package stream

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/rxtech-lab/argo-stream/internal/logger"
	"github.com/rxtech-lab/argo-stream/pkg/errors"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var errRejected = errors.New(errors.ErrCodeUnknown, "rejected by consumer")

// rejectAll is a named handler so that failure attribution can be asserted.
func rejectAll(Message) error {
	return errRejected
}

func panicOnMessage(Message) error {
	panic("consumer bug")
}

type recorder struct {
	mu       sync.Mutex
	messages []Message
	errs     []error
}

func (r *recorder) handle(msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.messages = append(r.messages, msg)

	return nil
}

func (r *recorder) observe(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.errs = append(r.errs, err)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.messages)
}

func (r *recorder) errorsWithCode(code errors.ErrorCode) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, err := range r.errs {
		if errors.HasCode(err, code) {
			n++
		}
	}

	return n
}

type StreamTestSuite struct {
	suite.Suite
	dialer   *fakeDialer
	recorder *recorder
	stream   *Stream
}

func TestStreamSuite(t *testing.T) {
	suite.Run(t, new(StreamTestSuite))
}

func (suite *StreamTestSuite) SetupTest() {
	suite.dialer = newFakeDialer()
	suite.recorder = &recorder{
		mu:       sync.Mutex{},
		messages: nil,
		errs:     nil,
	}
	suite.stream = nil
}

func (suite *StreamTestSuite) TearDownTest() {
	if suite.stream != nil {
		_ = suite.stream.Stop()
	}
}

func (suite *StreamTestSuite) config() Config {
	cfg := DefaultConfig()
	cfg.BaseURL = "ws://feed.test/streams/v1/"
	cfg.Backoff.InitialInterval = 5 * time.Millisecond
	cfg.Backoff.MaxInterval = 20 * time.Millisecond
	cfg.StopGracePeriod = time.Second

	return cfg
}

func (suite *StreamTestSuite) start(feed Feed, handler Handler, cfg Config) *Stream {
	s, err := Start(context.Background(), feed, handler, cfg,
		WithDialer(suite.dialer),
		WithLogger(logger.NewNop()),
		WithErrorHandler(suite.recorder.observe),
	)
	suite.Require().NoError(err)
	suite.stream = s

	return s
}

// waitSubscribed waits until the worker is streaming on a connection whose
// replayed subscriptions are exactly ids.
func (suite *StreamTestSuite) waitSubscribed(s *Stream, ids ...string) *fakeConn {
	var conn *fakeConn

	suite.Require().Eventually(func() bool {
		conn = suite.dialer.last()
		if conn == nil || s.State() != StateStreaming || s.control.restartRequested() {
			return false
		}

		got := conn.subscribed()
		if len(got) != len(ids) {
			return false
		}

		for i := range ids {
			if got[i] != ids[i] {
				return false
			}
		}

		return true
	}, waitFor, tick, "worker never streamed with %v", ids)

	return conn
}

func (suite *StreamTestSuite) TestStartRejectsNilHandler() {
	s, err := Start(context.Background(), TradesFeed, nil, suite.config())
	suite.Nil(s)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidCallback))
}

func (suite *StreamTestSuite) TestStartRejectsInvalidConfig() {
	cfg := suite.config()
	cfg.ThrottleMode = "sometimes"

	s, err := Start(context.Background(), TradesFeed, suite.recorder.handle, cfg)
	suite.Nil(s)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidConfiguration))
}

func (suite *StreamTestSuite) TestStartRejectsUnknownFeed() {
	s, err := Start(context.Background(), Feed{Type: "orders"}, suite.recorder.handle, suite.config()) //nolint:exhaustruct // feed without decoder
	suite.Nil(s)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidFeed))
}

func (suite *StreamTestSuite) TestStreamsWithEmptyRegistry() {
	s := suite.start(TradesFeed, suite.recorder.handle, suite.config())

	suite.waitSubscribed(s)
	suite.Equal(1, suite.dialer.count())
	suite.Empty(s.Subscriptions())
}

func (suite *StreamTestSuite) TestConnectHeaders() {
	cfg := suite.config()
	cfg.Token = "tok"

	s := suite.start(TradesFeed, suite.recorder.handle, cfg)
	suite.waitSubscribed(s)

	header := suite.dialer.lastHeader()
	suite.Equal("Bearer tok", header.Get("Authorization"))
	suite.True(strings.HasPrefix(header.Get("User-Agent"), "argo-stream/"))
}

func (suite *StreamTestSuite) TestSubscribeDeliversTicks() {
	s := suite.start(TradesFeed, suite.recorder.handle, suite.config())

	suite.Require().NoError(s.Subscribe("US88160R1014", ""))
	conn := suite.waitSubscribed(s, "US88160R1014")

	cmd := conn.commands()[0]
	suite.Equal("subscribe", cmd.Action)
	suite.Equal("trades", cmd.Type)
	suite.Equal("with-uncovered", cmd.Specifier)

	conn.push(tradeFrameFor("US88160R1014"))
	suite.Eventually(func() bool { return suite.recorder.count() == 1 }, waitFor, tick)

	got, ok := suite.recorder.messages[0].(Tick)
	suite.Require().True(ok)
	suite.Equal(SpecifierWithUncovered, got.Specifier)
	suite.Equal(int64(1), s.Stats().Delivered)
}

func (suite *StreamTestSuite) TestSubscribeValidation() {
	s := suite.start(QuotesFeed, suite.recorder.handle, suite.config())

	err := s.Subscribe("US88160R1014", SpecifierWithUncovered)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidSpecifier))

	err = s.Subscribe("", SpecifierWithPrice)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidInstrument))

	err = s.Subscribe("US-8816", SpecifierWithPrice)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidInstrument))

	suite.Empty(s.Subscriptions())
}

func (suite *StreamTestSuite) TestSubscribeTwiceDoesNotReconnect() {
	s := suite.start(TradesFeed, suite.recorder.handle, suite.config())

	suite.Require().NoError(s.Subscribe("US88160R1014", SpecifierWithQuantity))
	suite.waitSubscribed(s, "US88160R1014")
	connections := suite.dialer.count()

	suite.Require().NoError(s.Subscribe("US88160R1014", SpecifierWithQuantity))
	suite.Require().NoError(s.Subscribe("US88160R1014", SpecifierWithUncovered))

	suite.False(s.control.restartRequested())
	time.Sleep(50 * time.Millisecond)
	suite.Equal(connections, suite.dialer.count())
	suite.Equal(map[string]Specifier{"US88160R1014": SpecifierWithQuantity}, s.Subscriptions())
}

func (suite *StreamTestSuite) TestReconnectReplaysEveryEntry() {
	s := suite.start(TradesFeed, suite.recorder.handle, suite.config())

	for _, id := range []string{"US88160R1014", "DE0007164600", "US0378331005"} {
		suite.Require().NoError(s.Subscribe(id, ""))
	}

	before := suite.waitSubscribed(s, "DE0007164600", "US0378331005", "US88160R1014")

	suite.Require().NoError(s.Unsubscribe("US0378331005"))
	after := suite.waitSubscribed(s, "DE0007164600", "US88160R1014")

	suite.NotSame(before, after)
	suite.Eventually(before.isClosed, waitFor, tick)
	suite.Equal([]string{"US0378331005"}, before.unsubscribed())
	suite.Positive(s.Stats().Reconnects)
}

func (suite *StreamTestSuite) TestUnsubscribeAbsentIsNoop() {
	s := suite.start(TradesFeed, suite.recorder.handle, suite.config())
	suite.waitSubscribed(s)

	suite.NoError(s.Unsubscribe("US88160R1014"))
	suite.False(s.control.restartRequested())
}

func (suite *StreamTestSuite) TestServerDropReconnects() {
	s := suite.start(TradesFeed, suite.recorder.handle, suite.config())

	suite.Require().NoError(s.Subscribe("US88160R1014", ""))
	first := suite.waitSubscribed(s, "US88160R1014")
	first.drop()

	suite.Eventually(func() bool {
		last := suite.dialer.last()

		return last != first && len(last.subscribed()) == 1
	}, waitFor, tick)

	suite.Positive(s.Stats().TransportFailures)
	suite.Positive(suite.recorder.errorsWithCode(errors.ErrCodeTransportReceive))
}

func (suite *StreamTestSuite) TestFeedErrorReconnects() {
	s := suite.start(TradesFeed, suite.recorder.handle, suite.config())

	suite.Require().NoError(s.Subscribe("US88160R1014", ""))
	first := suite.waitSubscribed(s, "US88160R1014")
	first.push([]byte(`{"error":true,"message":"instrument halted"}`))

	suite.Eventually(first.isClosed, waitFor, tick)
	suite.Eventually(func() bool { return suite.dialer.last() != first }, waitFor, tick)
	suite.Equal(0, suite.recorder.count())
	suite.Equal(int64(1), s.Stats().DecodeFailures)
	suite.Equal(1, suite.recorder.errorsWithCode(errors.ErrCodeFeedError))
}

func (suite *StreamTestSuite) TestMalformedFrameReconnects() {
	s := suite.start(TradesFeed, suite.recorder.handle, suite.config())

	suite.Require().NoError(s.Subscribe("US88160R1014", ""))
	first := suite.waitSubscribed(s, "US88160R1014")
	first.push([]byte(`not json`))

	suite.Eventually(first.isClosed, waitFor, tick)
	suite.Eventually(func() bool {
		return suite.recorder.errorsWithCode(errors.ErrCodeMalformedFrame) == 1
	}, waitFor, tick)
}

func (suite *StreamTestSuite) TestDialFailuresBackOff() {
	suite.dialer.failNext(3)
	s := suite.start(TradesFeed, suite.recorder.handle, suite.config())

	suite.waitSubscribed(s)
	suite.Equal(int64(3), s.Stats().TransportFailures)
	suite.Equal(int64(1), s.Stats().Connections)
	suite.Equal(3, suite.recorder.errorsWithCode(errors.ErrCodeTransportConnect))
}

func (suite *StreamTestSuite) TestFrequencyLimitDropsFrames() {
	cfg := suite.config()
	cfg.FrequencyLimit = time.Second

	s := suite.start(TradesFeed, suite.recorder.handle, cfg)

	suite.Require().NoError(s.Subscribe("US88160R1014", ""))
	conn := suite.waitSubscribed(s, "US88160R1014")

	start := time.Now()
	conn.push(tradeFrameFor("US88160R1014"), tradeFrameFor("US88160R1014"), tradeFrameFor("US88160R1014"))

	suite.Eventually(func() bool {
		stats := s.Stats()

		return stats.Delivered+stats.Dropped == 3
	}, waitFor, tick)

	suite.Less(time.Since(start), time.Second)
	suite.Equal(1, suite.recorder.count())
	suite.Equal(int64(2), s.Stats().Dropped)
	suite.Empty(conn.frames, "throttled frames must still be read off the transport")
}

func (suite *StreamTestSuite) TestFrequencyLimitWaitMode() {
	cfg := suite.config()
	cfg.FrequencyLimit = 300 * time.Millisecond
	cfg.ThrottleMode = ThrottleWait

	s := suite.start(TradesFeed, suite.recorder.handle, cfg)

	suite.Require().NoError(s.Subscribe("US88160R1014", ""))
	conn := suite.waitSubscribed(s, "US88160R1014")
	conn.push(tradeFrameFor("US88160R1014"), tradeFrameFor("US88160R1014"), tradeFrameFor("US88160R1014"))

	suite.Eventually(func() bool { return suite.recorder.count() == 1 }, waitFor, tick)
	suite.Len(conn.frames, 2)

	suite.Eventually(func() bool { return suite.recorder.count() == 3 }, waitFor, tick)
	suite.Zero(s.Stats().Dropped)
}

func (suite *StreamTestSuite) TestThrottledWorkerStillSeesRestart() {
	cfg := suite.config()
	cfg.FrequencyLimit = time.Hour
	cfg.ThrottleMode = ThrottleWait

	s := suite.start(TradesFeed, suite.recorder.handle, cfg)

	suite.Require().NoError(s.Subscribe("US88160R1014", ""))
	conn := suite.waitSubscribed(s, "US88160R1014")
	conn.push(tradeFrameFor("US88160R1014"))
	suite.Eventually(func() bool { return suite.recorder.count() == 1 }, waitFor, tick)

	suite.Require().NoError(s.Subscribe("DE0007164600", ""))
	suite.waitSubscribed(s, "DE0007164600", "US88160R1014")
}

func (suite *StreamTestSuite) TestCallbackFailureTerminates() {
	s := suite.start(TradesFeed, rejectAll, suite.config())

	suite.Require().NoError(s.Subscribe("US88160R1014", ""))
	conn := suite.waitSubscribed(s, "US88160R1014")
	conn.push(tradeFrameFor("US88160R1014"))

	select {
	case <-s.Done():
	case <-time.After(waitFor):
		suite.FailNow("worker did not terminate")
	}

	err := s.Err()
	suite.Require().Error(err)
	suite.ErrorIs(err, errRejected)

	var cbErr *errors.CallbackError
	suite.Require().True(errors.As(err, &cbErr))
	suite.True(strings.HasSuffix(cbErr.Handler, "stream.rejectAll"), "got %s", cbErr.Handler)
	suite.Equal(StateTerminated, s.State())
	suite.True(conn.isClosed())

	err = s.Subscribe("DE0007164600", "")
	suite.True(errors.HasCode(err, errors.ErrCodeStreamStopped), "got %v", err)
	err = s.Unsubscribe("US88160R1014")
	suite.True(errors.HasCode(err, errors.ErrCodeStreamStopped), "got %v", err)
	suite.Equal(map[string]Specifier{"US88160R1014": SpecifierWithUncovered}, s.Subscriptions())

	suite.NoError(s.Stop())
}

func (suite *StreamTestSuite) TestCallbackPanicIsAttributed() {
	s := suite.start(TradesFeed, panicOnMessage, suite.config())

	suite.Require().NoError(s.Subscribe("US88160R1014", ""))
	suite.waitSubscribed(s, "US88160R1014").push(tradeFrameFor("US88160R1014"))

	<-s.Done()

	var cbErr *errors.CallbackError
	suite.Require().True(errors.As(s.Err(), &cbErr))
	suite.Contains(cbErr.Handler, "panicOnMessage")
	suite.Contains(cbErr.Error(), "consumer bug")
}

func (suite *StreamTestSuite) TestCallbackContinuePolicy() {
	cfg := suite.config()
	cfg.CallbackPolicy = CallbackContinue

	calls := 0
	handler := func(msg Message) error {
		calls++
		if calls == 1 {
			return errRejected
		}

		return suite.recorder.handle(msg)
	}

	s := suite.start(TradesFeed, handler, cfg)

	suite.Require().NoError(s.Subscribe("US88160R1014", ""))
	conn := suite.waitSubscribed(s, "US88160R1014")
	conn.push(tradeFrameFor("US88160R1014"), tradeFrameFor("US88160R1014"))

	suite.Eventually(func() bool { return suite.recorder.count() == 1 }, waitFor, tick)
	suite.Equal(int64(1), s.Stats().CallbackFailures)
	suite.Equal(1, suite.recorder.errorsWithCode(errors.ErrCodeCallbackFailed))
	suite.Equal(StateStreaming, s.State())
	suite.False(conn.isClosed())
}

func (suite *StreamTestSuite) TestStopTwice() {
	s := suite.start(TradesFeed, suite.recorder.handle, suite.config())
	suite.waitSubscribed(s)

	suite.NoError(s.Stop())

	start := time.Now()
	suite.NoError(s.Stop())
	suite.Less(time.Since(start), 10*time.Millisecond)

	suite.Equal(StateTerminated, s.State())
	suite.NoError(s.Err())
	suite.True(suite.dialer.last().isClosed())
}

func (suite *StreamTestSuite) TestSubscriptionChangesAfterStop() {
	s := suite.start(TradesFeed, suite.recorder.handle, suite.config())
	suite.Require().NoError(s.Subscribe("US88160R1014", ""))
	suite.waitSubscribed(s, "US88160R1014")

	suite.Require().NoError(s.Stop())

	err := s.Subscribe("DE0007164600", "")
	suite.True(errors.HasCode(err, errors.ErrCodeStreamStopped), "got %v", err)
	err = s.Unsubscribe("US88160R1014")
	suite.True(errors.HasCode(err, errors.ErrCodeStreamStopped), "got %v", err)
	suite.Len(s.Subscriptions(), 1)
}

func (suite *StreamTestSuite) TestStopDuringBackoff() {
	cfg := suite.config()
	cfg.Backoff.InitialInterval = time.Hour
	cfg.Backoff.MaxInterval = time.Hour

	suite.dialer.failNext(1)
	s := suite.start(TradesFeed, suite.recorder.handle, cfg)

	suite.Eventually(func() bool { return s.State() == StateReconnecting }, waitFor, tick)

	start := time.Now()
	suite.NoError(s.Stop())
	suite.Less(time.Since(start), time.Second)
	suite.Equal(0, suite.dialer.count())
}

func (suite *StreamTestSuite) TestStopTimeout() {
	cfg := suite.config()
	cfg.StopGracePeriod = 50 * time.Millisecond

	release := make(chan struct{})
	defer close(release)

	entered := make(chan struct{}, 1)
	s := suite.start(TradesFeed, func(Message) error {
		entered <- struct{}{}
		<-release

		return nil
	}, cfg)

	suite.Require().NoError(s.Subscribe("US88160R1014", ""))
	suite.waitSubscribed(s, "US88160R1014").push(tradeFrameFor("US88160R1014"))
	<-entered

	err := s.Stop()
	suite.True(errors.HasCode(err, errors.ErrCodeStopTimeout), "got %v", err)
	suite.Equal(err, s.Stop())
}

func (suite *StreamTestSuite) TestContextCancellationStops() {
	ctx, cancel := context.WithCancel(context.Background())

	s, err := Start(ctx, TradesFeed, suite.recorder.handle, suite.config(),
		WithDialer(suite.dialer),
		WithLogger(logger.NewNop()),
	)
	suite.Require().NoError(err)
	suite.stream = s

	suite.waitSubscribed(s)
	cancel()

	select {
	case <-s.Done():
	case <-time.After(waitFor):
		suite.Fail("stream did not stop on context cancellation")
	}

	suite.Equal(StateTerminated, s.State())
}
