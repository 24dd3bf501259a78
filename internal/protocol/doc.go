// Package protocol owns the control-channel body codec.
//
// Ownership boundary:
// - control packet entity and its invariants
// - serializer contract shared by plain and sealed variants
// - bounds-checked body parsing of untrusted ranges
//
// Body layout (big endian):
//
//	sessionId          [16]byte  always
//	ackCount           uint8     always
//	ackIds             []uint32  ackCount > 0
//	ackRemoteSessionId [16]byte  ackCount > 0
//	packetId           uint32    code != AckV1
//	payload            []byte    code != AckV1, remainder of range
//
// The opcode byte carrying code and key belongs to package frame.
package protocol
