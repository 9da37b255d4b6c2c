package upstream

import "sync"

// textSubscriberList is an ordered, mutex-guarded collection of
// TextSubscribers, snapshotted before iteration so registration and
// delivery never race — per the concurrency model, subscriber callbacks
// may themselves register or unregister (a DownstreamConnection
// deregisters on close, which can happen concurrently with delivery).
type textSubscriberList struct {
	mu   sync.RWMutex
	subs []TextSubscriber
}

func (l *textSubscriberList) Register(s TextSubscriber) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs = append(l.subs, s)
}

func (l *textSubscriberList) Unregister(s TextSubscriber) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, existing := range l.subs {
		if existing == s {
			l.subs = append(l.subs[:i], l.subs[i+1:]...)
			return
		}
	}
}

func (l *textSubscriberList) Snapshot() []TextSubscriber {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]TextSubscriber, len(l.subs))
	copy(out, l.subs)
	return out
}

func (l *textSubscriberList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.subs)
}

// binarySubscriberList is the binary-payload counterpart of
// textSubscriberList.
type binarySubscriberList struct {
	mu   sync.RWMutex
	subs []BinarySubscriber
}

func (l *binarySubscriberList) Register(s BinarySubscriber) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs = append(l.subs, s)
}

func (l *binarySubscriberList) Unregister(s BinarySubscriber) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, existing := range l.subs {
		if existing == s {
			l.subs = append(l.subs[:i], l.subs[i+1:]...)
			return
		}
	}
}

func (l *binarySubscriberList) Snapshot() []BinarySubscriber {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]BinarySubscriber, len(l.subs))
	copy(out, l.subs)
	return out
}

func (l *binarySubscriberList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.subs)
}
