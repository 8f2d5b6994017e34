package detector

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeRunner reports each frame's width as the class index of a single box.
// Frames of width 1 block until release is closed.
type fakeRunner struct {
	started chan int
	release chan struct{}
	err     map[int]error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{started: make(chan int, 16), release: make(chan struct{}), err: map[int]error{}}
}

func (r *fakeRunner) Run(frame Frame) (DetectionResult, error) {
	r.started <- frame.Width
	if frame.Width == 1 {
		<-r.release
	}
	if err := r.err[frame.Width]; err != nil {
		return DetectionResult{}, err
	}
	if frame.Width == 0 {
		return DetectionResult{Boxes: []BoundingBox{}, InferenceTime: time.Millisecond}, nil
	}
	return DetectionResult{
		Boxes:         []BoundingBox{{X1: 0.1, Y1: 0.1, X2: 0.2, Y2: 0.2, Confidence: 0.9, ClassIndex: frame.Width}},
		InferenceTime: 12 * time.Millisecond,
	}, nil
}

type recorder struct {
	mu     sync.Mutex
	events []Event
	notify chan struct{}
}

func newRecorder() *recorder { return &recorder{notify: make(chan struct{}, 64)} }

func (r *recorder) OnDetections(boxes []BoundingBox, ms int64) {
	r.mu.Lock()
	r.events = append(r.events, Event{Boxes: boxes, InferenceTimeMs: ms})
	r.mu.Unlock()
	r.notify <- struct{}{}
}

func (r *recorder) OnEmpty() {
	r.mu.Lock()
	r.events = append(r.events, Event{Empty: true})
	r.mu.Unlock()
	r.notify <- struct{}{}
}

func (r *recorder) wait(t *testing.T, n int) []Event {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.notify:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d", i+1)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func frameOfWidth(w int) Frame { return Frame{Width: w} }

func awaitStart(t *testing.T, r *fakeRunner) int {
	t.Helper()
	select {
	case w := <-r.started:
		return w
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not start")
	}
	return -1
}

func TestPipelineKeepsLatest(t *testing.T) {
	runner := newFakeRunner()
	rec := newRecorder()
	p := NewPipeline(runner, rec, zaptest.NewLogger(t))
	defer p.Close()

	require.NoError(t, p.Detect(frameOfWidth(1)))
	assert.Equal(t, 1, awaitStart(t, runner))

	require.NoError(t, p.Detect(frameOfWidth(2)))
	require.NoError(t, p.Detect(frameOfWidth(3)))
	close(runner.release)

	events := rec.wait(t, 2)
	require.Len(t, events, 2)
	assert.Equal(t, 1, events[0].Boxes[0].ClassIndex)
	assert.Equal(t, 3, events[1].Boxes[0].ClassIndex)
	assert.Equal(t, int64(12), events[1].InferenceTimeMs)

	stats := p.Stats()
	assert.Equal(t, int64(3), stats.Submitted)
	assert.Equal(t, int64(1), stats.Dropped)
	assert.Equal(t, int64(2), stats.Processed)
	assert.Equal(t, int64(12), stats.LastInferenceMs)
}

func TestPipelineErrorPolicy(t *testing.T) {
	runner := newFakeRunner()
	runner.err[4] = &PreprocessError{Message: "bad frame"}
	runner.err[5] = &InferenceError{Message: "delegate failed"}
	runner.err[6] = &DecodeError{Message: "bad layout"}
	runner.err[7] = errors.New("something else")
	close(runner.release)

	rec := newRecorder()
	p := NewPipeline(runner, rec, zaptest.NewLogger(t))
	defer p.Close()

	// Submit one at a time so nothing is coalesced.
	for _, w := range []int{4, 5, 5, 7, 6, 0, 2} {
		require.NoError(t, p.Detect(frameOfWidth(w)))
		assert.Equal(t, w, awaitStart(t, runner))
	}

	events := rec.wait(t, 3)
	require.Len(t, events, 3)
	assert.True(t, events[0].Empty, "decode failure is reported as empty")
	assert.True(t, events[1].Empty)
	assert.False(t, events[2].Empty)
	assert.Equal(t, 2, events[2].Boxes[0].ClassIndex)

	stats := p.Stats()
	assert.Equal(t, int64(5), stats.Failed)
	assert.Equal(t, int64(2), stats.Empty)
	assert.Equal(t, int64(2), stats.Processed)
}

func TestPipelineClose(t *testing.T) {
	runner := newFakeRunner()
	rec := newRecorder()
	p := NewPipeline(runner, rec, zaptest.NewLogger(t))

	require.NoError(t, p.Detect(frameOfWidth(1)))
	awaitStart(t, runner)
	require.NoError(t, p.Detect(frameOfWidth(2)))

	closed := make(chan struct{})
	go func() {
		assert.NoError(t, p.Close())
		close(closed)
	}()
	// Close waits for the in-flight run.
	select {
	case <-closed:
		t.Fatal("Close returned while a run was in progress")
	case <-time.After(50 * time.Millisecond):
	}
	close(runner.release)
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}

	assert.ErrorIs(t, p.Detect(frameOfWidth(3)), ErrPipelineClosed)
	assert.NoError(t, p.Close())

	rec.mu.Lock()
	assert.Empty(t, rec.events, "no delivery after close")
	rec.mu.Unlock()
	assert.Equal(t, int64(1), p.Stats().Dropped)
}

func TestPipelineRecoversListenerPanic(t *testing.T) {
	runner := newFakeRunner()
	close(runner.release)
	calls := make(chan int, 4)
	p := NewPipeline(runner, ListenerFuncs{
		Detections: func(boxes []BoundingBox, _ int64) {
			calls <- boxes[0].ClassIndex
			if boxes[0].ClassIndex == 2 {
				panic("listener bug")
			}
		},
	}, zaptest.NewLogger(t))
	defer p.Close()

	for _, w := range []int{2, 3} {
		require.NoError(t, p.Detect(frameOfWidth(w)))
		awaitStart(t, runner)
		select {
		case got := <-calls:
			assert.Equal(t, w, got)
		case <-time.After(2 * time.Second):
			t.Fatal("listener not called")
		}
	}
}

func TestChannelListenerDropsOldest(t *testing.T) {
	l := NewChannelListener(2)
	l.OnDetections([]BoundingBox{{ClassIndex: 1}}, 5)
	l.OnEmpty()
	l.OnDetections([]BoundingBox{{ClassIndex: 3}}, 7)
	l.Close()

	var got []Event
	for ev := range l.Events() {
		got = append(got, ev)
	}
	require.Len(t, got, 2)
	assert.True(t, got[0].Empty)
	assert.Equal(t, 3, got[1].Boxes[0].ClassIndex)
	assert.Equal(t, int64(7), got[1].InferenceTimeMs)
}
