package notifier

import (
	"sync"
	"time"

	"github.com/sbtg-data/flowmirror/pkg/mailbox"
)

// AlertSink receives drained mailbox messages for display. Implementations
// belong to the session layer (a UI push channel, a websocket, a log).
type AlertSink interface {
	Alert(message string)
}

// SessionNotifier polls one user's mailbox on a fixed interval and forwards
// every pending message to the session's sink. One notifier exists per
// active session; two sessions of the same user compete for the same
// mailbox and each message is shown by whichever drains it first.
type SessionNotifier struct {
	userID   string
	mailbox  *mailbox.Store
	sink     AlertSink
	interval time.Duration

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewSessionNotifier(userID string, mailboxStore *mailbox.Store, sink AlertSink, interval time.Duration) *SessionNotifier {
	return &SessionNotifier{
		userID:   userID,
		mailbox:  mailboxStore,
		sink:     sink,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the polling loop. It drains once immediately so that
// messages queued before the session opened are not delayed by a full
// interval.
func (n *SessionNotifier) Start() {
	go func() {
		defer close(n.done)

		n.flush()

		ticker := time.NewTicker(n.interval)
		defer ticker.Stop()

		for {
			select {
			case <-n.stop:
				return
			case <-ticker.C:
				n.flush()
			}
		}
	}()
}

// Stop ends the polling loop and waits for it to exit. Messages still in
// the mailbox stay queued for the user's next session. Safe to call more
// than once.
func (n *SessionNotifier) Stop() {
	n.stopOnce.Do(func() {
		close(n.stop)
	})
	<-n.done
}

func (n *SessionNotifier) flush() {
	for _, message := range n.mailbox.DrainAll(n.userID) {
		n.sink.Alert(message)
	}
}
