// Package message defines the envelope exchanged on the bus, the message
// types and topics, and the payload of every command, acknowledgement and
// status report.
package message
