package stream

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskcast/internal/logging"
	"deskcast/internal/quality"
	"deskcast/internal/types"
)

// fakeSource produces frames whose pixel content is controlled per call.
type fakeSource struct {
	w, h     int
	captures atomic.Int64
	gen      func(call int64) byte
}

func (s *fakeSource) Width() int  { return s.w }
func (s *fakeSource) Height() int { return s.h }
func (s *fakeSource) Close()      {}

func (s *fakeSource) Capture() (*types.Frame, error) {
	call := s.captures.Add(1)
	data := make([]byte, s.w*s.h*4)
	fill := byte(0)
	if s.gen != nil {
		fill = s.gen(call)
	}
	for i := range data {
		data[i] = fill
	}
	return &types.Frame{Data: data, Width: s.w, Height: s.h, Stride: s.w * 4, PixFmt: types.PixFmtRGBA}, nil
}

// fakeEncoder returns a deterministic payload derived from its inputs.
type fakeEncoder struct {
	encodes  atomic.Int64
	lastMode atomic.Int64
}

func (e *fakeEncoder) Encode(frame *types.Frame, width, height, q int, mode types.ResizeMode) ([]byte, error) {
	e.encodes.Add(1)
	e.lastMode.Store(int64(mode))
	return []byte(fmt.Sprintf("%dx%d q%d p%d", width, height, q, frame.Data[0])), nil
}

func newTestBroadcaster(gen func(call int64) byte) (*Broadcaster, *fakeSource, *fakeEncoder) {
	src := &fakeSource{w: 64, h: 36, gen: gen}
	enc := &fakeEncoder{}
	bounds := quality.Bounds{
		MinWidth: 480, MaxWidth: 1920,
		MinJPEGQuality: 20, MaxJPEGQuality: 90,
		MinFPS: 1, MaxFPS: 60,
	}
	ctrl := quality.NewController(bounds, src.w, src.h, quality.Settings{
		TargetWidth: 640, JPEGQuality: 70, FPS: 30,
	})
	b := NewBroadcaster(src, enc, ctrl, logging.GetLogger("stream-test"))
	return b, src, enc
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestLoopStartsOnFirstSubscriberStopsOnLast(t *testing.T) {
	b, src, _ := newTestBroadcaster(func(call int64) byte { return byte(call) })

	assert.False(t, b.Capturing())

	var published atomic.Int64
	unsub := b.Subscribe(func(*types.EncodedFrame) { published.Add(1) })
	assert.True(t, b.Capturing())

	waitFor(t, func() bool { return published.Load() >= 1 })

	unsub()
	assert.False(t, b.Capturing())

	// Idempotent: a second call must not panic or restart anything.
	unsub()
	assert.False(t, b.Capturing())

	// No residual timer: capture calls stop growing once the loop exits.
	settled := src.captures.Load()
	time.Sleep(150 * time.Millisecond)
	assert.LessOrEqual(t, src.captures.Load(), settled+1)
}

func TestDuplicateFramesSuppressed(t *testing.T) {
	// Every capture returns identical bytes; only the first may publish.
	b, src, _ := newTestBroadcaster(nil)

	var published atomic.Int64
	unsub := b.Subscribe(func(*types.EncodedFrame) { published.Add(1) })
	defer unsub()

	waitFor(t, func() bool { return src.captures.Load() >= 8 })
	assert.Equal(t, int64(1), published.Load())
}

func TestFanOutDeliversIdenticalFrameToAllSubscribers(t *testing.T) {
	b, _, _ := newTestBroadcaster(func(call int64) byte { return byte(call) })

	type received struct {
		mu     sync.Mutex
		frames []*types.EncodedFrame
	}
	a, c := &received{}, &received{}
	collect := func(r *received) PublishFunc {
		return func(f *types.EncodedFrame) {
			r.mu.Lock()
			r.frames = append(r.frames, f)
			r.mu.Unlock()
		}
	}

	unsubA := b.Subscribe(collect(a))
	defer unsubA()
	unsubC := b.Subscribe(collect(c))
	defer unsubC()

	waitFor(t, func() bool {
		a.mu.Lock()
		na := len(a.frames)
		a.mu.Unlock()
		c.mu.Lock()
		nc := len(c.frames)
		c.mu.Unlock()
		return na >= 2 && nc >= 2
	})

	a.mu.Lock()
	c.mu.Lock()
	defer a.mu.Unlock()
	defer c.mu.Unlock()

	// The first subscriber may have seen one frame before the second
	// registered, so match frames by timestamp: every frame published to
	// both must be the identical shared value.
	byTimestamp := make(map[int64]*types.EncodedFrame, len(a.frames))
	for _, f := range a.frames {
		byTimestamp[f.Timestamp] = f
	}
	shared := 0
	for _, f := range c.frames {
		if twin, ok := byTimestamp[f.Timestamp]; ok {
			assert.Same(t, twin, f)
			assert.Equal(t, 640, f.Width)
			assert.Equal(t, 360, f.Height)
			shared++
		}
	}
	assert.GreaterOrEqual(t, shared, 1)
}

func TestNoDeliveryAfterUnsubscribe(t *testing.T) {
	b, _, _ := newTestBroadcaster(func(call int64) byte { return byte(call) })

	var gone, alive atomic.Int64
	unsubGone := b.Subscribe(func(*types.EncodedFrame) { gone.Add(1) })
	unsubAlive := b.Subscribe(func(*types.EncodedFrame) { alive.Add(1) })
	defer unsubAlive()

	waitFor(t, func() bool { return gone.Load() >= 1 })
	unsubGone()
	frozen := gone.Load()

	before := alive.Load()
	waitFor(t, func() bool { return alive.Load() >= before+3 })
	assert.Equal(t, frozen, gone.Load())
}

func TestApplyQualityUpdateRejectsOutOfRange(t *testing.T) {
	b, _, _ := newTestBroadcaster(nil)

	fps := 1000
	assert.False(t, b.ApplyQualityUpdate(quality.Update{FPS: &fps}))
	assert.Equal(t, 30, b.Controller().Snapshot().FPS)

	width := 800
	assert.True(t, b.ApplyQualityUpdate(quality.Update{Width: &width, FPS: &fps}))
	s := b.Controller().Snapshot()
	assert.Equal(t, 800, s.TargetWidth)
	assert.Equal(t, 30, s.FPS)
}

func TestAdaptVerdictThresholds(t *testing.T) {
	budget := 100 * time.Millisecond

	assert.Equal(t, verdictDegrade, adaptVerdict(80*time.Millisecond, 0, budget))
	assert.Equal(t, verdictDegrade, adaptVerdict(10*time.Millisecond, 0.5, budget))
	assert.Equal(t, verdictImprove, adaptVerdict(10*time.Millisecond, 0, budget))
	assert.Equal(t, verdictHold, adaptVerdict(50*time.Millisecond, 0, budget))
	assert.Equal(t, verdictHold, adaptVerdict(10*time.Millisecond, 0.1, budget))
	// No timing data yet: hold rather than creep upward blindly.
	assert.Equal(t, verdictHold, adaptVerdict(0, 0, budget))
}

func TestSustainedOverloadDegradesMonotonicallyToFloor(t *testing.T) {
	bounds := quality.Bounds{
		MinWidth: 480, MaxWidth: 1920,
		MinJPEGQuality: 20, MaxJPEGQuality: 90,
		MinFPS: 1, MaxFPS: 60,
	}
	ctrl := quality.NewController(bounds, 1920, 1080, quality.Settings{
		TargetWidth: 1920, JPEGQuality: 90, FPS: 30,
	})

	budget := time.Second / 30
	overloaded := 2 * budget

	prev := ctrl.Snapshot()
	for cycle := 0; cycle < 40; cycle++ {
		require.Equal(t, verdictDegrade, adaptVerdict(overloaded, 0.4, budget))
		ctrl.StepDown(degradeQualityStep, degradeWidthStep)

		s := ctrl.Snapshot()
		assert.LessOrEqual(t, s.JPEGQuality, prev.JPEGQuality)
		assert.LessOrEqual(t, s.TargetWidth, prev.TargetWidth)
		assert.GreaterOrEqual(t, s.JPEGQuality, bounds.MinJPEGQuality)
		assert.GreaterOrEqual(t, s.TargetWidth, bounds.MinWidth)
		prev = s
	}

	assert.Equal(t, bounds.MinJPEGQuality, prev.JPEGQuality)
	assert.Equal(t, bounds.MinWidth, prev.TargetWidth)
}

// subscribeDirect registers a callback without starting the capture
// loop, so tests can drive tick and process by hand.
func subscribeDirect(b *Broadcaster, fn PublishFunc) {
	b.mu.Lock()
	b.subscribers[b.nextID] = fn
	b.nextID++
	b.mu.Unlock()
}

func newDriveState() *loopState {
	return &loopState{
		perf:       newPerfWindow(perfWindowSize),
		lastAdjust: time.Now(), // keep adaptive adjustment out of the way
	}
}

func newDriveTimer() *time.Timer {
	coalesce := time.NewTimer(time.Hour)
	stopTimer(coalesce)
	return coalesce
}

func TestCoalescingKeepsFreshestFrame(t *testing.T) {
	b, _, _ := newTestBroadcaster(func(call int64) byte { return byte(call) })

	var got []*types.EncodedFrame
	subscribeDirect(b, func(f *types.EncodedFrame) { got = append(got, f) })

	// A long frame period keeps the armed timer from firing mid-test.
	fps := 1
	require.True(t, b.ApplyQualityUpdate(quality.Update{FPS: &fps}))

	st := newDriveState()
	coalesce := newDriveTimer()
	defer coalesce.Stop()

	// A publish just happened, so a distinct new frame must wait on the
	// coalescing timer instead of publishing immediately.
	st.lastPublish = time.Now()
	b.tick(st, coalesce)
	require.NotNil(t, st.pending)
	assert.Empty(t, got)
	first := st.pending

	// A tick inside the back-pressure window is dropped without touching
	// the pending frame.
	b.tick(st, coalesce)
	assert.Equal(t, 1, st.dropped)
	assert.Same(t, first, st.pending)

	// Once back-pressure clears, a newer frame replaces the waiting one.
	st.lastAccepted = time.Now().Add(-time.Second)
	st.lastPublish = time.Now()
	b.tick(st, coalesce)
	require.NotNil(t, st.pending)
	assert.NotSame(t, first, st.pending)
	assert.Empty(t, got)

	// The timer was armed by the first pending frame and never re-armed.
	assert.True(t, coalesce.Stop())

	// Firing the coalescing path publishes exactly the freshest frame.
	frame := st.pending
	st.pending = nil
	b.process(st, frame)
	require.Len(t, got, 1)
	assert.Contains(t, string(got[0].Data), fmt.Sprintf("p%d", frame.Data[0]))
}

func TestProcessDipsQualityUnderMotionWithFloor(t *testing.T) {
	b, src, _ := newTestBroadcaster(func(call int64) byte { return byte(call) })

	var got []*types.EncodedFrame
	subscribeDirect(b, func(f *types.EncodedFrame) { got = append(got, f) })

	// Average between the motion and fast-resize fractions of the 33ms
	// frame budget at 30 fps: quality dips, scaler stays on quality.
	st := newDriveState()
	for i := 0; i < perfWindowSize; i++ {
		st.perf.add(23 * time.Millisecond)
	}
	frame, err := src.Capture()
	require.NoError(t, err)
	b.process(st, frame)
	require.Len(t, got, 1)
	assert.Contains(t, string(got[0].Data), " q60 ")

	// Near the floor the dip clamps at the floor instead of undershooting.
	q := 35
	b.ApplyQualityUpdate(quality.Update{JPEGQuality: &q})
	st = newDriveState()
	for i := 0; i < perfWindowSize; i++ {
		st.perf.add(23 * time.Millisecond)
	}
	frame, err = src.Capture()
	require.NoError(t, err)
	b.process(st, frame)
	require.Len(t, got, 2)
	assert.Contains(t, string(got[1].Data), " q30 ")
}

func TestProcessSwitchesToFastResizeUnderLoad(t *testing.T) {
	b, src, enc := newTestBroadcaster(func(call int64) byte { return byte(call) })
	subscribeDirect(b, func(*types.EncodedFrame) {})

	// Low average: quality scaler.
	st := newDriveState()
	for i := 0; i < perfWindowSize; i++ {
		st.perf.add(time.Millisecond)
	}
	frame, err := src.Capture()
	require.NoError(t, err)
	b.process(st, frame)
	assert.Equal(t, int64(types.ResizeQuality), enc.lastMode.Load())

	// Average above the fast-resize fraction of the budget: cheap scaler.
	st = newDriveState()
	for i := 0; i < perfWindowSize; i++ {
		st.perf.add(30 * time.Millisecond)
	}
	frame, err = src.Capture()
	require.NoError(t, err)
	b.process(st, frame)
	assert.Equal(t, int64(types.ResizeFast), enc.lastMode.Load())
}

func TestMaybeAdjustAtMostOncePerInterval(t *testing.T) {
	b, _, _ := newTestBroadcaster(nil)
	budget := time.Second / 30

	overload := func(st *loopState) {
		for i := 0; i < perfWindowSize; i++ {
			st.perf.add(2 * budget)
		}
		st.sent = 10
		st.dropped = 10
	}

	st := newDriveState()
	st.lastAdjust = time.Now().Add(-2 * adjustInterval)
	overload(st)

	before := b.Controller().Snapshot()
	b.maybeAdjust(st, budget)
	afterFirst := b.Controller().Snapshot()
	assert.Less(t, afterFirst.JPEGQuality, before.JPEGQuality)

	// Inside the interval the same overload signal is ignored.
	overload(st)
	b.maybeAdjust(st, budget)
	assert.Equal(t, afterFirst, b.Controller().Snapshot())

	// Once the interval passes it adjusts again.
	st.lastAdjust = time.Now().Add(-2 * adjustInterval)
	overload(st)
	b.maybeAdjust(st, budget)
	assert.Less(t, b.Controller().Snapshot().JPEGQuality, afterFirst.JPEGQuality)
}

func TestPerfWindowRingBehavior(t *testing.T) {
	w := newPerfWindow(3)
	assert.Equal(t, time.Duration(0), w.average())

	w.add(10 * time.Millisecond)
	w.add(20 * time.Millisecond)
	assert.Equal(t, 15*time.Millisecond, w.average())

	w.add(30 * time.Millisecond)
	w.add(60 * time.Millisecond) // evicts the 10ms sample
	assert.Equal(t, int(3), w.count())
	assert.Equal(t, (20+30+60)/3*time.Millisecond, w.average())

	w.reset()
	assert.Equal(t, 0, w.count())
}
