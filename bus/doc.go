// Package bus publishes events and reminders between eventkit hosts.
//
// # Implementations
//
//   - NATSBus: multi-process delivery over core NATS
//   - MemoryBus: in-process delivery for tests and single-node hosts
//
// # Subjects
//
// Hosts publish every committed event on EventSubject(aggregateName) and
// due reminders on RemindersSubject. Read models can subscribe with
// wildcards:
//
//	sub, _ := b.Subscribe("events.*")
//	for msg := range sub.Messages() {
//	    var env messages.Envelope
//	    json.Unmarshal(msg.Data, &env)
//	}
//
// Hosts consume reminders through a queue group so each reminder is
// handled by exactly one worker:
//
//	sub, _ := b.QueueSubscribe(bus.RemindersSubject, "eventkit")
//
// Delivery is at-most-once. Anything that must survive a crash is in the
// state store; the bus only wakes up the code that reads it.
package bus
