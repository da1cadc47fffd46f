package mqtt

import (
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// fakeToken is a completed paho.Token.
type fakeToken struct {
	err  error
	done chan struct{}
}

func newToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

// pendingToken never completes.
func pendingToken() *fakeToken {
	return &fakeToken{done: make(chan struct{})}
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type fakePublish struct {
	topic   string
	qos     byte
	payload []byte
}

// fakePaho is a paho.Client double. Methods not overridden panic through
// the nil embedded interface.
type fakePaho struct {
	paho.Client

	opts *paho.ClientOptions

	mu           sync.Mutex
	connectToken *fakeToken
	publishErr   error
	publishHang  bool
	subscribeErr error
	published    []fakePublish
	handlers     map[string]paho.MessageHandler
	unsubscribed []string
	disconnects  int
}

func newFakePaho() *fakePaho {
	return &fakePaho{handlers: make(map[string]paho.MessageHandler)}
}

func (f *fakePaho) factory(opts *paho.ClientOptions) paho.Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opts = opts
	return f
}

func (f *fakePaho) Connect() paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectToken != nil {
		return f.connectToken
	}
	return newToken(nil)
}

func (f *fakePaho) Disconnect(uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
}

func (f *fakePaho) Publish(topic string, qos byte, _ bool, payload any) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishHang {
		return pendingToken()
	}
	if f.publishErr != nil {
		return newToken(f.publishErr)
	}
	f.published = append(f.published, fakePublish{topic: topic, qos: qos, payload: payload.([]byte)})
	return newToken(nil)
}

func (f *fakePaho) Subscribe(topic string, _ byte, cb paho.MessageHandler) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return newToken(f.subscribeErr)
	}
	f.handlers[topic] = cb
	return newToken(nil)
}

func (f *fakePaho) Unsubscribe(topics ...string) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, topics...)
	return newToken(nil)
}

// deliver invokes the message handler registered for topic.
func (f *fakePaho) deliver(topic string, payload []byte) {
	f.mu.Lock()
	cb := f.handlers[topic]
	f.mu.Unlock()
	cb(f, &fakeMessage{topic: topic, payload: payload})
}

// loseConnection invokes the registered connection lost handler.
func (f *fakePaho) loseConnection(err error) {
	f.mu.Lock()
	opts := f.opts
	f.mu.Unlock()
	opts.OnConnectionLost(f, err)
}

type fakeMessage struct {
	paho.Message
	topic   string
	payload []byte
}

func (m *fakeMessage) Topic() string   { return m.topic }
func (m *fakeMessage) Payload() []byte { return m.payload }
