package bridge

import "sync"

// subscriberBuffer is the live-line headroom on each subscriber channel,
// beyond whatever tail is replayed into it.
const subscriberBuffer = 128

// OutputStream carries a companion's post-handshake stdout lines to
// subscribers. A bounded tail of recent lines is retained and replayed
// to each new subscriber, so attaching shortly after spawn still sees
// the companion's first output.
type OutputStream struct {
	subs  map[chan string]struct{}
	tail  []string // ring buffer
	start int
	count int
	mu    sync.Mutex
}

// NewOutputStream creates a stream retaining up to tailLines lines
func NewOutputStream(tailLines int) *OutputStream {
	if tailLines <= 0 {
		tailLines = 1
	}
	return &OutputStream{
		subs: make(map[chan string]struct{}),
		tail: make([]string, tailLines),
	}
}

// Publish records a line in the tail and delivers it to all subscribers.
// A subscriber that can't keep up loses lines instead of stalling the
// companion's output reader.
func (s *OutputStream) Publish(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count < len(s.tail) {
		s.tail[(s.start+s.count)%len(s.tail)] = line
		s.count++
	} else {
		s.tail[s.start] = line
		s.start = (s.start + 1) % len(s.tail)
	}

	for ch := range s.subs {
		select {
		case ch <- line:
		default:
		}
	}
}

// Subscribe returns a channel that first replays the retained tail and
// then carries live lines. Callers must Unsubscribe when done.
func (s *OutputStream) Subscribe() chan string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan string, s.count+subscriberBuffer)
	for i := 0; i < s.count; i++ {
		ch <- s.tail[(s.start+i)%len(s.tail)]
	}
	s.subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscriber and closes its channel
func (s *OutputStream) Unsubscribe(ch chan string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subs[ch]; ok {
		delete(s.subs, ch)
		close(ch)
	}
}
