package detector

// Listener receives one notification per processed frame. Implementations must
// not block for long and must not panic; they run on the pipeline worker.
type Listener interface {
	OnDetections(boxes []BoundingBox, inferenceTimeMs int64)
	OnEmpty()
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are ignored.
type ListenerFuncs struct {
	Detections func(boxes []BoundingBox, inferenceTimeMs int64)
	Empty      func()
}

func (l ListenerFuncs) OnDetections(boxes []BoundingBox, inferenceTimeMs int64) {
	if l.Detections != nil {
		l.Detections(boxes, inferenceTimeMs)
	}
}

func (l ListenerFuncs) OnEmpty() {
	if l.Empty != nil {
		l.Empty()
	}
}

// Event is one listener notification; Empty events carry no boxes.
type Event struct {
	Empty           bool
	Boxes           []BoundingBox
	InferenceTimeMs int64
}

// ChannelListener forwards notifications to a bounded channel so that a consumer
// can apply them on its own goroutine. When the consumer falls behind, the oldest
// pending event is discarded; delivery order is preserved otherwise.
type ChannelListener struct {
	events chan Event
}

func NewChannelListener(size int) *ChannelListener {
	if size <= 0 {
		size = 1
	}
	return &ChannelListener{events: make(chan Event, size)}
}

// Events is closed by Close.
func (l *ChannelListener) Events() <-chan Event { return l.events }

// Close must only be called once the pipeline feeding this listener is closed.
func (l *ChannelListener) Close() { close(l.events) }

func (l *ChannelListener) OnDetections(boxes []BoundingBox, inferenceTimeMs int64) {
	l.push(Event{Boxes: boxes, InferenceTimeMs: inferenceTimeMs})
}

func (l *ChannelListener) OnEmpty() {
	l.push(Event{Empty: true})
}

// push is only called from the single pipeline worker, so the drop-then-send
// sequence cannot race with another producer.
func (l *ChannelListener) push(ev Event) {
	for {
		select {
		case l.events <- ev:
			return
		default:
		}
		select {
		case <-l.events:
		default:
		}
	}
}
