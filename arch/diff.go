package arch

import "fmt"

// Field names used in FieldMismatch.
const (
	FieldGPR = "gpr"
	FieldCSR = "csr"
	FieldPC  = "pc"
)

// A FieldMismatch describes one register that differs between the reference
// model and the device under test.
type FieldMismatch struct {
	Field    string
	Index    int
	Name     string
	Expected uint64
	Actual   uint64
}

func (m FieldMismatch) String() string {
	if m.Field == FieldPC {
		return fmt.Sprintf("pc mismatch! ref=%#x, dut=%#x",
			m.Expected, m.Actual)
	}

	return fmt.Sprintf("%s%d(%s) mismatch! ref=%#x, dut=%#x",
		m.Field, m.Index, m.Name, m.Expected, m.Actual)
}

// DiffRegisters compares the general purpose and control and status registers
// of the expected state with the actual state. The pc is not compared.
func (s ArchState) DiffRegisters(actual ArchState) []FieldMismatch {
	var mismatches []FieldMismatch

	for i := 0; i < NumGPR; i++ {
		if s.GPR[i] != actual.GPR[i] {
			mismatches = append(mismatches, FieldMismatch{
				Field:    FieldGPR,
				Index:    i,
				Name:     GPRName(i),
				Expected: s.GPR[i],
				Actual:   actual.GPR[i],
			})
		}
	}

	for i := 0; i < NumCSR; i++ {
		if s.CSR[i] != actual.CSR[i] {
			mismatches = append(mismatches, FieldMismatch{
				Field:    FieldCSR,
				Index:    i,
				Name:     CSRName(i),
				Expected: s.CSR[i],
				Actual:   actual.CSR[i],
			})
		}
	}

	return mismatches
}

// DiffPC compares an expected pc with the actual one.
func DiffPC(expected, actual uint64) []FieldMismatch {
	if expected == actual {
		return nil
	}

	return []FieldMismatch{{
		Field:    FieldPC,
		Name:     FieldPC,
		Expected: expected,
		Actual:   actual,
	}}
}
