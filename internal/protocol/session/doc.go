// Package session owns per-session control channel bookkeeping.
//
// Ownership boundary:
// - serializer selection and reset on renegotiation
// - outbound packet id allocation and the retransmission outbox
// - inbound ack bookkeeping and piggybacked acknowledgments
//
// Replay windows and multi-packet reassembly are not handled here.
package session
