package service

import "sync"

const clientBufferSize = 64

func NewSSEClientMap[T any]() *SSEClientMap[T] {
	return &SSEClientMap[T]{
		clients: make(map[int64]map[string]chan T),
	}
}

// SSEClientMap fans messages for one deployment out to every connected
// listener.
type SSEClientMap[T any] struct {
	m       sync.Mutex
	clients map[int64]map[string]chan T
}

// AddClient registers a listener and returns its channel. The channel is
// buffered so broadcasts never wait on a listener.
func (cm *SSEClientMap[T]) AddClient(id int64, uid string) chan T {
	cm.m.Lock()
	defer cm.m.Unlock()
	if _, ok := cm.clients[id]; !ok {
		cm.clients[id] = make(map[string]chan T)
	}
	ch := make(chan T, clientBufferSize)
	cm.clients[id][uid] = ch
	return ch
}

func (cm *SSEClientMap[T]) RemoveClient(id int64, uid string) {
	cm.m.Lock()
	defer cm.m.Unlock()
	if _, ok := cm.clients[id][uid]; !ok {
		return
	}
	close(cm.clients[id][uid])
	delete(cm.clients[id], uid)
	if len(cm.clients[id]) == 0 {
		delete(cm.clients, id)
	}
}

// SendToClients broadcasts without blocking: a listener whose buffer is full
// loses the message rather than stalling the deploy pipeline.
func (cm *SSEClientMap[T]) SendToClients(id int64, message T) {
	cm.m.Lock()
	defer cm.m.Unlock()
	for i := range cm.clients[id] {
		select {
		case cm.clients[id][i] <- message:
		default:
		}
	}
}
