package mailbox

import "sync"

// Store holds per-user FIFO queues of pending error messages. It is the only
// structure in the process mutated by uncoordinated goroutines (bus consumers
// enqueue, session notifiers drain), so all access goes through one mutex.
// Queues are created lazily and live for the process lifetime; there is no
// upper bound on queue length.
type Store struct {
	mu     sync.Mutex
	queues map[string][]string
}

func NewStore() *Store {
	return &Store{queues: make(map[string][]string)}
}

// Enqueue appends the message to the user's queue. An empty user id means
// the message cannot be routed and is dropped.
func (s *Store) Enqueue(userID, message string) {
	if userID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.queues[userID] = append(s.queues[userID], message)
}

// DrainAll atomically removes and returns the user's pending messages,
// oldest first. A message is returned by exactly one drain.
func (s *Store) DrainAll(userID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	messages := s.queues[userID]
	if len(messages) == 0 {
		return nil
	}
	delete(s.queues, userID)
	return messages
}

// HasPending reports whether the user has undelivered messages without
// removing them.
func (s *Store) HasPending(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.queues[userID]) > 0
}
