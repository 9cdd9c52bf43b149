// Package message sequences the messages of each thread.
//
// A send is checked in a fixed order: unknown thread, non-participant sender,
// invalid body, read-only thread. Accepted messages are appended inside the
// thread's exclusive section, so sequence numbers are contiguous from 1 and
// sentAt never decreases within a thread. Observers, the event publisher and
// the journal all see messages in commit order.
package message
