// Package stage implements the init lifecycle orchestrator (spec.md §4.9):
// the post-fs, post-fs-data, and late-start callbacks that drive image
// setup, module enumeration, and the magic mount itself.
package stage

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Ack writes the four-byte zero acknowledgement the init socket protocol
// expects (spec.md §6: "each stage entry reads a client socket, writes a
// 32-bit zero ack, then closes. No further messages") and closes conn.
func Ack(conn net.Conn) error {
	defer conn.Close()
	var zero [4]byte
	binary.LittleEndian.PutUint32(zero[:], 0)
	if _, err := conn.Write(zero[:]); err != nil {
		return fmt.Errorf("write ack: %w", err)
	}
	return nil
}
