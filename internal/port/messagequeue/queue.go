// Package messagequeue defines the message queue port (interface).
package messagequeue

import (
	"context"
	"strings"
)

// Handler processes a message received from the queue.
// The context carries request-scoped values such as the request ID.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	// Pending messages are processed; no new messages are accepted.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subjects used by thermal memory nodes. The stream captures thermal.>.
const (
	SubjectStreamWildcard = "thermal.>"

	// SubjectFederation prefixes per-triad federation subjects:
	// thermal.federation.{source_triad}.
	SubjectFederation    = "thermal.federation"
	SubjectFederationAll = SubjectFederation + ".>"
)

// FederationSubject returns the subject a triad publishes its federation
// events on.
func FederationSubject(triad string) string {
	return SubjectFederation + "." + triad
}

// TriadFromSubject extracts the source triad from a federation subject.
func TriadFromSubject(subject string) (string, bool) {
	triad, ok := strings.CutPrefix(subject, SubjectFederation+".")
	if !ok || triad == "" || strings.Contains(triad, ".") {
		return "", false
	}
	return triad, true
}
