package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSSEClientMap_SendToClients(t *testing.T) {
	t.Run("success - connected listener receives messages in order", func(t *testing.T) {
		// arrange
		cm := NewSSEClientMap[string]()
		client := cm.AddClient(1, "listener-a")
		defer cm.RemoveClient(1, "listener-a")

		// act
		cm.SendToClients(1, "first line")
		cm.SendToClients(1, "second line")

		// assert
		assert.Equal(t, "first line", <-client)
		assert.Equal(t, "second line", <-client)
	})
	t.Run("success - broadcast never blocks on an idle listener", func(t *testing.T) {
		// arrange
		cm := NewSSEClientMap[string]()
		cm.AddClient(1, "listener-a")
		defer cm.RemoveClient(1, "listener-a")

		// act
		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := 0; i < clientBufferSize*2; i++ {
				cm.SendToClients(1, "line")
			}
		}()

		// assert
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("broadcast blocked on a listener that never reads")
		}
	})
	t.Run("success - broadcast to a deployment without listeners is a no-op", func(t *testing.T) {
		// arrange
		cm := NewSSEClientMap[string]()

		// act
		done := make(chan struct{})
		go func() {
			defer close(done)
			cm.SendToClients(42, "line")
		}()

		// assert
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("broadcast blocked with no listeners connected")
		}
	})
	t.Run("success - slow listener drops messages but later reads resume", func(t *testing.T) {
		// arrange
		cm := NewSSEClientMap[string]()
		client := cm.AddClient(1, "listener-a")
		defer cm.RemoveClient(1, "listener-a")
		for i := 0; i < clientBufferSize; i++ {
			cm.SendToClients(1, "buffered")
		}

		// act: buffer is full, this send is dropped rather than blocking
		cm.SendToClients(1, "dropped")

		// assert
		assert.Len(t, client, clientBufferSize)
		assert.Equal(t, "buffered", <-client)
		cm.SendToClients(1, "resumed")
		for len(client) > 1 {
			<-client
		}
		assert.Equal(t, "resumed", <-client)
	})
}

func TestSSEClientMap_RemoveClient(t *testing.T) {
	t.Run("success - removed listener's channel is closed", func(t *testing.T) {
		// arrange
		cm := NewSSEClientMap[string]()
		client := cm.AddClient(1, "listener-a")

		// act
		cm.RemoveClient(1, "listener-a")

		// assert
		_, ok := <-client
		assert.False(t, ok)
	})
	t.Run("success - removing an unknown listener is a no-op", func(t *testing.T) {
		// arrange
		cm := NewSSEClientMap[string]()

		// act + assert
		assert.NotPanics(t, func() { cm.RemoveClient(1, "nobody") })
	})
}
