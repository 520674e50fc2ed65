// Package nats publishes relay output to a NATS subject.
//
// Every Write becomes one message (or several when Config.MaxPayload is set)
// with three headers: Flexbuf-Run names the relay run, Flexbuf-Seq numbers
// messages from 1 within the run, and Nats-Msg-Id combines both so JetStream
// deduplicates redelivered chunks if the subject is captured by a stream.
//
// The output publishes through the Publisher interface, which
// *natsclient.Client satisfies.
package nats
