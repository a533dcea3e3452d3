package arch

import "fmt"

// NumGPR is the number of general purpose registers.
const NumGPR = 32

// NumCSR is the number of control and status registers that are exchanged
// with the reference model.
const NumCSR = 18

// CSR indexes. The order is fixed by the register copy layout of the
// reference model and must not change within a schema version.
const (
	CSRMode = iota
	CSRMStatus
	CSRSStatus
	CSRMEPC
	CSRSEPC
	CSRMTVal
	CSRSTVal
	CSRMTVec
	CSRSTVec
	CSRMCause
	CSRSCause
	CSRSATP
	CSRMIP
	CSRMIE
	CSRMScratch
	CSRSScratch
	CSRMIDeleg
	CSRMEDeleg
)

var csrNames = [NumCSR]string{
	"mode",
	"mstatus",
	"sstatus",
	"mepc",
	"sepc",
	"mtval",
	"stval",
	"mtvec",
	"stvec",
	"mcause",
	"scause",
	"satp",
	"mip",
	"mie",
	"mscratch",
	"sscratch",
	"mideleg",
	"medeleg",
}

// CSRName returns the name of the CSR at index i.
func CSRName(i int) string {
	if i < 0 || i >= NumCSR {
		return fmt.Sprintf("csr?%d", i)
	}

	return csrNames[i]
}

// GPRName returns the ABI name of general purpose register i.
func GPRName(i int) string {
	names := [NumGPR]string{
		"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
		"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
		"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
		"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
	}

	if i < 0 || i >= NumGPR {
		return fmt.Sprintf("x?%d", i)
	}

	return names[i]
}
