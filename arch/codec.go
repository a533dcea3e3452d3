package arch

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// SchemaVersion identifies the binary layout of ArchState and
// RetirementRecord. Any change to field order or width bumps the version.
//
// Version 1, little endian, no padding:
//
//	ArchState:        gpr[32] u64 | csr[18] u64 | pc u64
//	RetirementRecord: inst u32 | pc u64 | gpr[32] u64 | csr[18] u64 |
//	                  skip u8 | is_rvc u8 | rfwen u8 | is_load u8 | is_store u8
const SchemaVersion = 1

const (
	// ArchStateSize is the encoded size of an ArchState in bytes.
	ArchStateSize = (NumGPR + NumCSR + 1) * 8

	// RetirementRecordSize is the encoded size of a RetirementRecord in
	// bytes.
	RetirementRecordSize = 4 + 8 + (NumGPR+NumCSR)*8 + 5
)

var (
	// ErrBadLength is returned when a buffer does not have the exact size of
	// the encoded type.
	ErrBadLength = errors.New("arch: buffer length does not match schema")

	// ErrBadFlag is returned when a boolean flag byte is neither 0 nor 1.
	ErrBadFlag = errors.New("arch: flag byte is not 0 or 1")
)

var le = binary.LittleEndian

// MarshalBinary encodes the state with the version 1 layout.
func (s ArchState) MarshalBinary() ([]byte, error) {
	buf := make([]byte, ArchStateSize)
	s.put(buf)

	return buf, nil
}

func (s ArchState) put(buf []byte) {
	off := 0

	for _, v := range s.GPR {
		le.PutUint64(buf[off:], v)
		off += 8
	}

	for _, v := range s.CSR {
		le.PutUint64(buf[off:], v)
		off += 8
	}

	le.PutUint64(buf[off:], s.PC)
}

// UnmarshalBinary decodes a state encoded with the version 1 layout.
func (s *ArchState) UnmarshalBinary(buf []byte) error {
	if len(buf) != ArchStateSize {
		return fmt.Errorf("%w: arch state is %d bytes, got %d",
			ErrBadLength, ArchStateSize, len(buf))
	}

	off := 0

	for i := range s.GPR {
		s.GPR[i] = le.Uint64(buf[off:])
		off += 8
	}

	for i := range s.CSR {
		s.CSR[i] = le.Uint64(buf[off:])
		off += 8
	}

	s.PC = le.Uint64(buf[off:])

	return nil
}

// MarshalBinary encodes the record with the version 1 layout.
func (r RetirementRecord) MarshalBinary() ([]byte, error) {
	buf := make([]byte, RetirementRecordSize)

	le.PutUint32(buf[0:], r.Inst)
	le.PutUint64(buf[4:], r.PC)

	off := 12
	for _, v := range r.GPR {
		le.PutUint64(buf[off:], v)
		off += 8
	}

	for _, v := range r.CSR {
		le.PutUint64(buf[off:], v)
		off += 8
	}

	flags := []bool{r.Skip, r.IsRVC, r.RFWen, r.IsLoad, r.IsStore}
	for i, f := range flags {
		if f {
			buf[off+i] = 1
		}
	}

	return buf, nil
}

// UnmarshalBinary decodes a record encoded with the version 1 layout.
func (r *RetirementRecord) UnmarshalBinary(buf []byte) error {
	if len(buf) != RetirementRecordSize {
		return fmt.Errorf("%w: retirement record is %d bytes, got %d",
			ErrBadLength, RetirementRecordSize, len(buf))
	}

	r.Inst = le.Uint32(buf[0:])
	r.PC = le.Uint64(buf[4:])

	off := 12
	for i := range r.GPR {
		r.GPR[i] = le.Uint64(buf[off:])
		off += 8
	}

	for i := range r.CSR {
		r.CSR[i] = le.Uint64(buf[off:])
		off += 8
	}

	flags := []*bool{&r.Skip, &r.IsRVC, &r.RFWen, &r.IsLoad, &r.IsStore}
	for i, f := range flags {
		b := buf[off+i]
		if b > 1 {
			return fmt.Errorf("%w: byte %d is %#x", ErrBadFlag, off+i, b)
		}

		*f = b == 1
	}

	return nil
}
