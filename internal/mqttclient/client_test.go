package mqttclient

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snarg/speaker-id/internal/speaker"
)

type doneToken struct {
	err error
}

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic   string
	qos     byte
	payload []byte
}

// fakeConn records publishes. Methods the client never calls are left to
// the embedded nil interface.
type fakeConn struct {
	mqtt.Client
	mu           sync.Mutex
	msgs         []published
	fail         error
	disconnected bool
}

func (f *fakeConn) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{topic, qos, payload.([]byte)})
	return doneToken{err: f.fail}
}

func (f *fakeConn) Disconnect(uint) {
	f.mu.Lock()
	f.disconnected = true
	f.mu.Unlock()
}

func (f *fakeConn) published() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.msgs...)
}

func startFake(prefix string) (*Client, *fakeConn) {
	conn := &fakeConn{}
	c := newClient(prefix, zerolog.Nop())
	c.conn = conn
	go c.run()
	return c, conn
}

func TestTopic(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		event  speaker.Event
		want   string
	}{
		{"speaker_event", "speaker-id", speaker.Event{Kind: speaker.EventEnrolled, SpeakerID: "84"}, "speaker-id/events/enrolled/84"},
		{"batch_event", "speaker-id", speaker.Event{Kind: speaker.EventImported, Count: 3}, "speaker-id/events/imported"},
		{"slashes_trimmed", "/site/a/", speaker.Event{Kind: speaker.EventDeleted, SpeakerID: "x"}, "site/a/events/deleted/x"},
		{"no_prefix", "", speaker.Event{Kind: speaker.EventRenamed, SpeakerID: "x"}, "events/renamed/x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClient(tt.prefix, zerolog.Nop())
			assert.Equal(t, tt.want, c.Topic(tt.event))
		})
	}
}

func TestPublishOnNotify(t *testing.T) {
	c, conn := startFake("speaker-id")
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c.Notify(speaker.Event{Kind: speaker.EventIdentified, SpeakerID: "A", Name: "Alice", Confidence: 0.8, Time: at})
	c.Notify(speaker.Event{Kind: speaker.EventDeleted, SpeakerID: "B", Time: at})
	c.Close()

	msgs := conn.published()
	require.Len(t, msgs, 2, "close drains queued events")
	assert.Equal(t, "speaker-id/events/identified/A", msgs[0].topic)
	assert.Equal(t, byte(1), msgs[0].qos)

	var got speaker.Event
	require.NoError(t, json.Unmarshal(msgs[0].payload, &got))
	assert.Equal(t, "Alice", got.Name)
	assert.InDelta(t, 0.8, got.Confidence, 1e-12)
	assert.True(t, at.Equal(got.Time))
	assert.True(t, conn.disconnected)

	c.Notify(speaker.Event{Kind: speaker.EventEnrolled, SpeakerID: "C"})
	assert.Len(t, conn.published(), 2, "events after close are ignored")
	c.Close()
}

func TestPublishFailureIsLogged(t *testing.T) {
	conn := &fakeConn{fail: errors.New("not connected")}
	c := newClient("p", zerolog.Nop())
	c.conn = conn
	go c.run()
	c.Notify(speaker.Event{Kind: speaker.EventRenamed, SpeakerID: "A"})
	c.Close()
	assert.Len(t, conn.published(), 1)
}

func TestNotifyDropsWhenFull(t *testing.T) {
	// No run loop: nothing drains the queue.
	c := newClient("p", zerolog.Nop())
	for i := 0; i < queueSize+5; i++ {
		c.Notify(speaker.Event{Kind: speaker.EventEnrolled})
	}
	assert.Equal(t, int64(5), c.Dropped())
}
