package wire

import "fmt"

// Split separates a decoded frame (the bytes transport.RecvFramed returned,
// length prefix already stripped) into its opcode and payload body. It
// fails only if the frame is empty — every opcode-specific parser applies
// its own length validation to body.
func Split(frame []byte) (Opcode, []byte, error) {
	if len(frame) == 0 {
		return 0, nil, fmt.Errorf("wire: empty frame")
	}
	return Opcode(frame[0]), frame[1:], nil
}
