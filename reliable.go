// Package reliable provides a reliable-ordered messaging channel over
// an unreliable datagram transport: exactly-once, in-order delivery of
// small messages, arbitrary-size block reassembly, and a single ack
// vector per outgoing datagram. See package conn for the Connection
// type callers drive, package channel for the per-channel algorithm,
// and package block for the standalone out-of-band bulk-transfer
// helper.
package reliable
