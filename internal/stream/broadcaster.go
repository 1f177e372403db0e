// Package stream owns the process-wide capture pipeline: a single
// timer-driven loop that pulls frames from the frame source, suppresses
// duplicates, coalesces bursts down to the freshest frame, encodes, and
// fans the result out to every subscribed connection. The loop runs only
// while at least one subscriber is registered.
package stream

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"deskcast/internal/framehash"
	"deskcast/internal/quality"
	"deskcast/internal/types"
)

const (
	// minTickInterval caps how fast the capture timer can fire no matter
	// what fps the client asks for.
	minTickInterval = 15 * time.Millisecond

	// backpressureFraction of the frame period must have elapsed since the
	// last accepted tick before another capture is attempted.
	backpressureFraction = 0.8

	perfWindowSize = 30
	adjustInterval = 2 * time.Second

	// Degrade when the recent average processing time eats more than
	// degradeFraction of the frame budget, or when too many ticks are
	// being dropped. Improve only when both signals are comfortably low.
	degradeFraction    = 0.7
	improveFraction    = 0.4
	degradeDropRate    = 0.25
	improveDropRate    = 0.05
	degradeQualityStep = 5
	degradeWidthStep   = 160
	improveQualityStep = 2
	improveWidthStep   = 80

	// Above fastResizeFraction of the budget the cheap bilinear scaler is
	// used instead of CatmullRom.
	fastResizeFraction = 0.8

	// Sustained processing cost reads as on-screen motion; the encoder
	// quality is dipped because compression artifacts are less visible
	// while things move. Never dips below motionQualityFloor.
	motionFraction     = 0.6
	motionQualityDip   = 10
	motionQualityFloor = 30
)

// PublishFunc receives each published frame. It is invoked synchronously
// from the capture loop, in production order.
type PublishFunc func(frame *types.EncodedFrame)

// Broadcaster is the single shared capture source. One instance serves
// every connection in the process.
type Broadcaster struct {
	source  types.FrameSource
	encoder types.FrameEncoder
	ctrl    *quality.Controller
	logger  zerolog.Logger

	mu          sync.Mutex
	subscribers map[uint64]PublishFunc
	nextID      uint64
	stop        chan struct{} // non-nil while capturing
	retime      chan struct{} // pokes the loop to re-arm its ticker
	resetPerf   chan struct{} // pokes the loop to discard timing history
}

func NewBroadcaster(source types.FrameSource, encoder types.FrameEncoder, ctrl *quality.Controller, logger zerolog.Logger) *Broadcaster {
	b := &Broadcaster{
		source:      source,
		encoder:     encoder,
		ctrl:        ctrl,
		logger:      logger,
		subscribers: make(map[uint64]PublishFunc),
		retime:      make(chan struct{}, 1),
		resetPerf:   make(chan struct{}, 1),
	}
	b.publishSettingsMetrics(ctrl.Snapshot())
	return b
}

// Controller exposes the quality controller for read access.
func (b *Broadcaster) Controller() *quality.Controller {
	return b.ctrl
}

// Subscribe registers a publish callback and returns its unsubscribe
// function. The capture loop starts on the first subscriber; unsubscribe
// is idempotent and stops the loop when the set empties.
func (b *Broadcaster) Subscribe(fn PublishFunc) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = fn
	if len(b.subscribers) == 1 {
		b.stop = make(chan struct{})
		go b.run(b.stop)
		b.logger.Info().Msg("capture loop started")
	}
	n := len(b.subscribers)
	b.mu.Unlock()

	metricSubscribers.Set(float64(n))
	return func() { b.unsubscribe(id) }
}

func (b *Broadcaster) unsubscribe(id uint64) {
	b.mu.Lock()
	if _, ok := b.subscribers[id]; !ok {
		b.mu.Unlock()
		return
	}
	delete(b.subscribers, id)
	n := len(b.subscribers)
	if n == 0 && b.stop != nil {
		close(b.stop)
		b.stop = nil
		b.logger.Info().Msg("capture loop stopped")
	}
	b.mu.Unlock()

	metricSubscribers.Set(float64(n))
}

// ApplyQualityUpdate forwards a client quality request to the controller.
// Out-of-range fields are dropped there; an accepted change invalidates
// the timing history, and an fps change re-arms the capture timer.
func (b *Broadcaster) ApplyQualityUpdate(u quality.Update) bool {
	changed, fpsChanged := b.ctrl.Apply(u)
	if !changed {
		return false
	}

	b.publishSettingsMetrics(b.ctrl.Snapshot())
	poke(b.resetPerf)
	if fpsChanged {
		poke(b.retime)
	}
	return true
}

// Capturing reports whether the capture loop is currently running.
func (b *Broadcaster) Capturing() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stop != nil
}

// loopState is the capture loop's transient state. It lives on the run
// goroutine's stack, so stopping the loop discards it and a fresh
// activation starts clean.
type loopState struct {
	lastAccepted time.Time
	lastPublish  time.Time
	lastHash     uint64
	hasHash      bool
	pending      *types.Frame
	perf         *perfWindow
	sent         int
	dropped      int
	lastAdjust   time.Time
}

func (b *Broadcaster) run(stop chan struct{}) {
	settings := b.ctrl.Snapshot()
	ticker := time.NewTicker(tickPeriod(settings.FPS))
	defer ticker.Stop()

	coalesce := time.NewTimer(time.Hour)
	if !coalesce.Stop() {
		<-coalesce.C
	}
	defer coalesce.Stop()

	st := &loopState{
		perf:       newPerfWindow(perfWindowSize),
		lastAdjust: time.Now(),
	}

	for {
		select {
		case <-stop:
			return
		case <-b.retime:
			ticker.Reset(tickPeriod(b.ctrl.Snapshot().FPS))
		case <-b.resetPerf:
			st.perf.reset()
			st.sent = 0
			st.dropped = 0
		case <-ticker.C:
			b.tick(st, coalesce)
		case <-coalesce.C:
			if st.pending != nil {
				frame := st.pending
				st.pending = nil
				b.process(st, frame)
			}
		}
	}
}

func (b *Broadcaster) tick(st *loopState, coalesce *time.Timer) {
	settings := b.ctrl.Snapshot()
	framePeriod := time.Second / time.Duration(settings.FPS)

	now := time.Now()
	if !st.lastAccepted.IsZero() && now.Sub(st.lastAccepted) < time.Duration(backpressureFraction*float64(framePeriod)) {
		st.dropped++
		metricFramesDropped.Inc()
		return
	}
	st.lastAccepted = now

	frame, err := b.source.Capture()
	if err != nil {
		metricCaptureErrors.Inc()
		b.logger.Warn().Err(err).Msg("frame capture failed")
		return
	}

	hash := framehash.Sample(frame.Data)
	if st.hasHash && hash == st.lastHash {
		metricFramesDuplicate.Inc()
		return
	}
	st.lastHash = hash
	st.hasHash = true

	// Only the freshest frame is ever kept; a newer pending frame
	// silently replaces an older one waiting on the coalescing timer.
	wait := framePeriod - now.Sub(st.lastPublish)
	if st.lastPublish.IsZero() || wait <= 0 {
		st.pending = nil
		stopTimer(coalesce)
		b.process(st, frame)
		return
	}
	if st.pending == nil {
		stopTimer(coalesce)
		coalesce.Reset(wait)
	}
	st.pending = frame
}

func (b *Broadcaster) process(st *loopState, frame *types.Frame) {
	settings := b.ctrl.Snapshot()
	budget := time.Second / time.Duration(settings.FPS)
	avg := st.perf.average()

	mode := types.ResizeQuality
	if avg > time.Duration(fastResizeFraction*float64(budget)) {
		mode = types.ResizeFast
	}

	effQuality := settings.JPEGQuality
	if avg > time.Duration(motionFraction*float64(budget)) {
		if dipped := effQuality - motionQualityDip; dipped >= motionQualityFloor {
			effQuality = dipped
		} else if effQuality > motionQualityFloor {
			effQuality = motionQualityFloor
		}
	}

	start := time.Now()
	data, err := b.encoder.Encode(frame, settings.TargetWidth, settings.TargetHeight, effQuality, mode)
	if err != nil {
		b.logger.Warn().Err(err).Msg("frame encode failed")
		return
	}
	elapsed := time.Since(start)

	st.perf.add(elapsed)
	st.sent++
	st.lastPublish = time.Now()
	metricFramesSent.Inc()
	metricEncodeSeconds.Observe(elapsed.Seconds())

	encoded := &types.EncodedFrame{
		Data:      data,
		Width:     settings.TargetWidth,
		Height:    settings.TargetHeight,
		Timestamp: st.lastPublish.UnixMilli(),
	}

	b.mu.Lock()
	fns := make([]PublishFunc, 0, len(b.subscribers))
	for _, fn := range b.subscribers {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(encoded)
	}

	b.maybeAdjust(st, budget)
}

// maybeAdjust runs the adaptive quality algorithm at most once per
// adjustment interval. Steps are asymmetric: degrade fast, improve slow.
func (b *Broadcaster) maybeAdjust(st *loopState, budget time.Duration) {
	now := time.Now()
	if now.Sub(st.lastAdjust) < adjustInterval {
		return
	}
	st.lastAdjust = now

	avg := st.perf.average()
	dropRate := 0.0
	if total := st.sent + st.dropped; total > 0 {
		dropRate = float64(st.dropped) / float64(total)
	}
	st.sent = 0
	st.dropped = 0

	var moved bool
	switch adaptVerdict(avg, dropRate, budget) {
	case verdictDegrade:
		moved = b.ctrl.StepDown(degradeQualityStep, degradeWidthStep)
	case verdictImprove:
		moved = b.ctrl.StepUp(improveQualityStep, improveWidthStep)
	default:
		return
	}

	if moved {
		st.perf.reset()
		s := b.ctrl.Snapshot()
		b.publishSettingsMetrics(s)
		b.logger.Debug().
			Dur("avg_processing", avg).
			Float64("drop_rate", dropRate).
			Int("width", s.TargetWidth).
			Int("jpeg_quality", s.JPEGQuality).
			Msg("adaptive quality adjusted")
	}
}

type verdict int

const (
	verdictHold verdict = iota
	verdictDegrade
	verdictImprove
)

func adaptVerdict(avg time.Duration, dropRate float64, budget time.Duration) verdict {
	if avg > time.Duration(degradeFraction*float64(budget)) || dropRate > degradeDropRate {
		return verdictDegrade
	}
	if avg > 0 && avg < time.Duration(improveFraction*float64(budget)) && dropRate < improveDropRate {
		return verdictImprove
	}
	return verdictHold
}

func (b *Broadcaster) publishSettingsMetrics(s quality.Settings) {
	metricTargetWidth.Set(float64(s.TargetWidth))
	metricJPEGQuality.Set(float64(s.JPEGQuality))
	metricTargetFPS.Set(float64(s.FPS))
}

func tickPeriod(fps int) time.Duration {
	period := time.Second / time.Duration(fps)
	if period < minTickInterval {
		return minTickInterval
	}
	return period
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

func poke(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
