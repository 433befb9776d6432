package service

import "time"

// DispatchObserver records the outcome of every dispatch.
// outcome is "success" or the failure's error type.
type DispatchObserver interface {
	ObserveDispatch(actionID, outcome string, duration time.Duration)
}

// EventObserver records event bus activity.
type EventObserver interface {
	ObservePublish(eventType string, subscribers int)
	ObserveSubscriberFailure(subscriber, eventType string)
}

// AuditObserver records audit records lost to backpressure.
type AuditObserver interface {
	ObserveAuditDrop()
}

// nopObserver is used when no metrics collector is configured.
type nopObserver struct{}

func (nopObserver) ObserveDispatch(string, string, time.Duration) {}
func (nopObserver) ObservePublish(string, int)                    {}
func (nopObserver) ObserveSubscriberFailure(string, string)       {}
func (nopObserver) ObserveAuditDrop()                             {}
