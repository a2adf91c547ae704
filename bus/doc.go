// Package bus provides the message buses that carry published sentences to
// consumers.
//
// Memory is an in-process broadcast bus: each subscriber gets a bounded
// queue and, when it falls behind, the oldest message is discarded so the
// newest wins. NATS publishes each payload as a core NATS message on a
// subject derived from the topic name.
//
// Both implement topic.Broker.
package bus
