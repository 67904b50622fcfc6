package proto

import (
	"encoding/binary"
	"fmt"

	"ember/emberos/abi"
)

// MaxNameLen bounds a registered name.
const MaxNameLen = 64

const nameHeader = 4 + 4 + 16

// NameRecordSize is the largest encoded NameRecord.
const NameRecordSize = nameHeader + MaxNameLen

// NameRecord is the request and reply body of the name registry, written
// into a mutably lent page.
//
// Layout (little-endian):
//   - u32: status, an abi.Error (zero on success)
//   - u32: name length
//   - 4 x u32: SID
//   - name bytes
type NameRecord struct {
	Status abi.Error
	Name   string
	SID    abi.SID
}

// MarshalBinary encodes r.
func (r NameRecord) MarshalBinary() ([]byte, error) {
	if len(r.Name) == 0 || len(r.Name) > MaxNameLen {
		return nil, fmt.Errorf("name record: name length %d out of range", len(r.Name))
	}
	b := make([]byte, nameHeader+len(r.Name))
	binary.LittleEndian.PutUint32(b[0:4], uint32(r.Status))
	binary.LittleEndian.PutUint32(b[4:8], uint32(len(r.Name)))
	for i, w := range r.SID {
		binary.LittleEndian.PutUint32(b[8+4*i:], w)
	}
	copy(b[nameHeader:], r.Name)
	return b, nil
}

// UnmarshalBinary decodes a record produced by MarshalBinary.
func (r *NameRecord) UnmarshalBinary(b []byte) error {
	if len(b) < nameHeader {
		return fmt.Errorf("name record: short header (%d bytes)", len(b))
	}
	n := int(binary.LittleEndian.Uint32(b[4:8]))
	if n == 0 || n > MaxNameLen || nameHeader+n > len(b) {
		return fmt.Errorf("name record: name length %d out of range", n)
	}
	r.Status = abi.Error(binary.LittleEndian.Uint32(b[0:4]))
	for i := range r.SID {
		r.SID[i] = binary.LittleEndian.Uint32(b[8+4*i:])
	}
	r.Name = string(b[nameHeader : nameHeader+n])
	return nil
}
