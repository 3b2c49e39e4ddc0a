package dm

// Snapshot watchers. Notification is a coalescing edge trigger: watchers get
// "something changed" and re-read the snapshot themselves. Sends never block;
// a watcher that is behind simply sees one combined wakeup.

// Watch registers a watcher channel notified after every snapshot publish.
func (s *Store) Watch() <-chan struct{} {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.watchers = append(s.watchers, ch)
	s.mu.Unlock()
	return ch
}

// Unwatch removes a previously registered watcher.
func (s *Store) Unwatch(ch <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, w := range s.watchers {
		if w == ch {
			s.watchers = append(s.watchers[:i], s.watchers[i+1:]...)
			return
		}
	}
}

// notifyLocked pings all watchers. Caller holds s.mu.
func (s *Store) notifyLocked() {
	for _, w := range s.watchers {
		select {
		case w <- struct{}{}:
		default:
			// Watcher already has a pending wakeup.
		}
	}
}
