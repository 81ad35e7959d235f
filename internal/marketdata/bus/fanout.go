// Package bus broadcasts one channel of messages to many subscribers.
package bus

import (
	"context"
	"log"
	"sync"
)

// FanOut broadcasts messages from a single input channel to N output channels.
// If an output channel is full, the message is dropped for that consumer to
// prevent a slow consumer from blocking the pipeline.
type FanOut[T any] struct {
	mu      sync.RWMutex
	outputs map[int]chan T
	nextID  int
	bufSize int
	closed  bool

	// OnDrop is called when a message is dropped for a subscriber.
	OnDrop func(subscriberID int)
}

// New creates a FanOut with the given buffer size for output channels.
func New[T any](outputBufferSize int) *FanOut[T] {
	return &FanOut[T]{
		outputs: make(map[int]chan T),
		bufSize: outputBufferSize,
	}
}

// Subscribe creates and returns a new output channel and its id.
// Subscribing after Run has returned yields an already-closed channel.
func (f *FanOut[T]) Subscribe() (int, <-chan T) {
	ch := make(chan T, f.bufSize)
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	if f.closed {
		close(ch)
		return id, ch
	}
	f.outputs[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscriber's channel. It returns the
// number of subscribers left.
func (f *FanOut[T]) Unsubscribe(id int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.outputs[id]; ok {
		delete(f.outputs, id)
		close(ch)
	}
	return len(f.outputs)
}

// Run reads from the input channel and fans out to all subscribers.
// Blocks until ctx is cancelled or input is closed, then closes every
// subscriber channel.
func (f *FanOut[T]) Run(ctx context.Context, input <-chan T) {
	defer func() {
		f.mu.Lock()
		for id, ch := range f.outputs {
			close(ch)
			delete(f.outputs, id)
		}
		f.closed = true
		f.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-input:
			if !ok {
				return
			}
			f.mu.RLock()
			for id, ch := range f.outputs {
				select {
				case ch <- msg:
				default:
					if f.OnDrop != nil {
						f.OnDrop(id)
					} else {
						log.Printf("[bus] subscriber %d full, dropping message", id)
					}
				}
			}
			f.mu.RUnlock()
		}
	}
}

// ChannelStat is the queued length and capacity of one subscriber channel.
type ChannelStat struct {
	ID  int
	Len int
	Cap int
}

// ChannelStats reports every subscriber channel.
func (f *FanOut[T]) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, 0, len(f.outputs))
	for id, ch := range f.outputs {
		stats = append(stats, ChannelStat{ID: id, Len: len(ch), Cap: cap(ch)})
	}
	return stats
}
