package messaging

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

type fakeDelivery struct {
	body          []byte
	correlationID string
	acks          atomic.Int32
	rejects       atomic.Int32
}

func newFakeDelivery(correlationID, body string) *fakeDelivery {
	return &fakeDelivery{body: []byte(body), correlationID: correlationID}
}

func (d *fakeDelivery) Body() []byte          { return d.body }
func (d *fakeDelivery) CorrelationID() string { return d.correlationID }
func (d *fakeDelivery) Acknowledge() error    { d.acks.Add(1); return nil }
func (d *fakeDelivery) Reject(bool) error     { d.rejects.Add(1); return nil }

// fakeTransport keeps reply queues in memory. onPublish runs inside
// Publish, before it returns, so tests can reply as fast as possible.
type fakeTransport struct {
	mu         sync.Mutex
	seq        int
	handlers   map[string]func(TransportDelivery)
	published  []Message
	declared   []string
	removed    map[string]int
	declareErr error
	publishErr error
	removeErr  error
	onPublish  func(msg Message)
	connected  bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		handlers: make(map[string]func(TransportDelivery)),
		removed:  make(map[string]int),
	}
}

func (t *fakeTransport) Publisher() TransportPublisher { return fakePublisher{t} }
func (t *fakeTransport) ReplyQueues() ReplyQueues      { return fakeReplyQueues{t} }
func (t *fakeTransport) Connect(context.Context) error { t.connected = true; return nil }
func (t *fakeTransport) Close() error                  { return nil }
func (t *fakeTransport) IsConnected() bool             { return t.connected }

// reply delivers d to queue as the broker would.
func (t *fakeTransport) reply(queue string, d TransportDelivery) bool {
	t.mu.Lock()
	handler, ok := t.handlers[queue]
	t.mu.Unlock()
	if !ok {
		return false
	}
	handler(d)
	return true
}

func (t *fakeTransport) handlerFor(queue string) func(TransportDelivery) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handlers[queue]
}

func (t *fakeTransport) removedCount(queue string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removed[queue]
}

func (t *fakeTransport) publishedMessages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Message(nil), t.published...)
}

func (t *fakeTransport) lastPublished() Message {
	msgs := t.publishedMessages()
	return msgs[len(msgs)-1]
}

type fakePublisher struct{ t *fakeTransport }

func (p fakePublisher) Publish(ctx context.Context, msg Message) error {
	p.t.mu.Lock()
	if p.t.publishErr != nil {
		p.t.mu.Unlock()
		return p.t.publishErr
	}
	p.t.published = append(p.t.published, msg)
	onPublish := p.t.onPublish
	p.t.mu.Unlock()

	if onPublish != nil {
		onPublish(msg)
	}
	return nil
}

type fakeReplyQueues struct{ t *fakeTransport }

func (q fakeReplyQueues) Declare(ctx context.Context, handler func(TransportDelivery)) (string, error) {
	q.t.mu.Lock()
	defer q.t.mu.Unlock()
	if q.t.declareErr != nil {
		return "", q.t.declareErr
	}
	q.t.seq++
	name := fmt.Sprintf("amq.gen-%d", q.t.seq)
	q.t.handlers[name] = handler
	q.t.declared = append(q.t.declared, name)
	return name, nil
}

func (q fakeReplyQueues) Remove(ctx context.Context, name string) error {
	q.t.mu.Lock()
	defer q.t.mu.Unlock()
	q.t.removed[name]++
	delete(q.t.handlers, name)
	return q.t.removeErr
}

type recordingMetrics struct {
	mu       sync.Mutex
	messages map[string]int
	errors   map[string]int
	timings  int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{messages: make(map[string]int), errors: make(map[string]int)}
}

func (m *recordingMetrics) IncrementMessageCount(messageType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[messageType]++
}

func (m *recordingMetrics) RecordProcessingTime(messageType string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timings++
}

func (m *recordingMetrics) IncrementErrorCount(messageType string, errorType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[errorType]++
}

func (m *recordingMetrics) errorCount(errorType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors[errorType]
}
