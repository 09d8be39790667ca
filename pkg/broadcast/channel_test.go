package broadcast_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/ripple/pkg/broadcast"
)

func TestPublishNotifiesInProcessListeners(t *testing.T) {
	ch := broadcast.New("test-inprocess")
	defer ch.Close()

	received := make(chan broadcast.Message, 1)
	unsub := ch.Subscribe(func(m broadcast.Message) { received <- m })
	defer unsub()

	ch.Publish(broadcast.Message{Type: "row-change", TableName: "todos", RowID: "1", Source: "test"})

	select {
	case msg := <-received:
		assert.Equal(t, "todos", msg.TableName)
	case <-time.After(2 * time.Second):
		t.Fatal("listener was not notified")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	ch := broadcast.New("test-unsub")
	defer ch.Close()

	var count int
	received := make(chan struct{}, 2)
	unsub := ch.Subscribe(func(m broadcast.Message) {
		count++
		received <- struct{}{}
	})

	ch.Publish(broadcast.Message{Type: "row-change", TableName: "todos"})
	<-received

	unsub()
	ch.Publish(broadcast.Message{Type: "row-change", TableName: "todos"})

	select {
	case <-received:
		t.Fatal("listener should not have received a second message")
	case <-time.After(200 * time.Millisecond):
	}

	require.Equal(t, 1, count)
}

func TestCrossProcessFanoutBetweenTwoChannels(t *testing.T) {
	name := "test-fanout"
	a := broadcast.New(name)
	defer a.Close()
	b := broadcast.New(name)
	defer b.Close()

	received := make(chan broadcast.Message, 1)
	b.Subscribe(func(m broadcast.Message) { received <- m })

	// Give both receive sockets time to register their rendezvous files.
	time.Sleep(50 * time.Millisecond)
	a.Publish(broadcast.Message{Type: "row-change", TableName: "todos", RowID: "42", Source: "a"})

	select {
	case msg := <-received:
		assert.Equal(t, "42", msg.RowID)
	case <-time.After(2 * time.Second):
		t.Fatal("sibling channel was not notified")
	}
}
