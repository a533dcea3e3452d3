// Package elftest writes small ELF64 executables for tests.
package elftest

import (
	"debug/elf"
	"encoding/binary"
	"os"
)

const (
	ehdrSize = 64
	phdrSize = 56
	shdrSize = 64
	symSize  = 24
)

// A Segment is one PT_LOAD segment. Memsz smaller than len(Data) is raised to
// len(Data).
type Segment struct {
	Vaddr uint64
	Data  []byte
	Memsz uint64
}

// A Symbol is written into .symtab.
type Symbol struct {
	Name string
	Addr uint64
	Size uint64
}

// Image describes an executable. Zero Machine and Type mean RISC-V and
// ET_EXEC.
type Image struct {
	Machine  elf.Machine
	Type     elf.Type
	Entry    uint64
	Segments []Segment
	Funcs    []Symbol
	Objects  []Symbol
}

var le = binary.LittleEndian

func align8(n int) int {
	return (n + 7) &^ 7
}

// Bytes encodes the image.
func (img Image) Bytes() []byte {
	machine := img.Machine
	if machine == 0 {
		machine = elf.EM_RISCV
	}

	typ := img.Type
	if typ == 0 {
		typ = elf.ET_EXEC
	}

	phoff := ehdrSize
	off := align8(phoff + phdrSize*len(img.Segments))

	buf := make([]byte, off)
	phdrs := make([]byte, phdrSize*len(img.Segments))

	for i, seg := range img.Segments {
		memsz := seg.Memsz
		if memsz < uint64(len(seg.Data)) {
			memsz = uint64(len(seg.Data))
		}

		p := phdrs[i*phdrSize:]
		le.PutUint32(p[0:], uint32(elf.PT_LOAD))
		le.PutUint32(p[4:], uint32(elf.PF_R|elf.PF_W|elf.PF_X))
		le.PutUint64(p[8:], uint64(len(buf)))
		le.PutUint64(p[16:], seg.Vaddr)
		le.PutUint64(p[24:], seg.Vaddr)
		le.PutUint64(p[32:], uint64(len(seg.Data)))
		le.PutUint64(p[40:], memsz)
		le.PutUint64(p[48:], 8)

		buf = append(buf, seg.Data...)
		buf = append(buf, make([]byte, align8(len(buf))-len(buf))...)
	}

	copy(buf[phoff:], phdrs)

	shoff, shnum, shstrndx := 0, 0, 0
	if len(img.Funcs)+len(img.Objects) > 0 {
		buf, shoff = img.appendSymbols(buf)
		shnum, shstrndx = 4, 3
	}

	e := buf[:ehdrSize]
	copy(e, elf.ELFMAG)
	e[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	e[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	e[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	le.PutUint16(e[16:], uint16(typ))
	le.PutUint16(e[18:], uint16(machine))
	le.PutUint32(e[20:], uint32(elf.EV_CURRENT))
	le.PutUint64(e[24:], img.Entry)
	le.PutUint64(e[32:], uint64(phoff))
	le.PutUint64(e[40:], uint64(shoff))
	le.PutUint16(e[52:], ehdrSize)
	le.PutUint16(e[54:], phdrSize)
	le.PutUint16(e[56:], uint16(len(img.Segments)))
	le.PutUint16(e[58:], shdrSize)
	le.PutUint16(e[60:], uint16(shnum))
	le.PutUint16(e[62:], uint16(shstrndx))

	return buf
}

func (img Image) appendSymbols(buf []byte) ([]byte, int) {
	strtab := []byte{0}
	symtab := make([]byte, symSize)

	addSym := func(s Symbol, typ elf.SymType) {
		sym := make([]byte, symSize)
		le.PutUint32(sym[0:], uint32(len(strtab)))
		sym[4] = elf.ST_INFO(elf.STB_GLOBAL, typ)
		le.PutUint16(sym[6:], uint16(elf.SHN_ABS))
		le.PutUint64(sym[8:], s.Addr)
		le.PutUint64(sym[16:], s.Size)
		symtab = append(symtab, sym...)

		strtab = append(strtab, s.Name...)
		strtab = append(strtab, 0)
	}

	for _, s := range img.Funcs {
		addSym(s, elf.STT_FUNC)
	}

	for _, s := range img.Objects {
		addSym(s, elf.STT_OBJECT)
	}

	shstrtab := []byte("\x00.symtab\x00.strtab\x00.shstrtab\x00")

	symOff := len(buf)
	buf = append(buf, symtab...)
	strOff := len(buf)
	buf = append(buf, strtab...)
	shstrOff := len(buf)
	buf = append(buf, shstrtab...)
	buf = append(buf, make([]byte, align8(len(buf))-len(buf))...)

	shoff := len(buf)
	sh := make([]byte, 4*shdrSize)

	put := func(i int, name uint32, typ elf.SectionType,
		off, size int, link, info uint32, align, entsize uint64,
	) {
		s := sh[i*shdrSize:]
		le.PutUint32(s[0:], name)
		le.PutUint32(s[4:], uint32(typ))
		le.PutUint64(s[24:], uint64(off))
		le.PutUint64(s[32:], uint64(size))
		le.PutUint32(s[40:], link)
		le.PutUint32(s[44:], info)
		le.PutUint64(s[48:], align)
		le.PutUint64(s[56:], entsize)
	}

	put(1, 1, elf.SHT_SYMTAB, symOff, len(symtab), 2, 1, 8, symSize)
	put(2, 9, elf.SHT_STRTAB, strOff, len(strtab), 0, 0, 1, 0)
	put(3, 17, elf.SHT_STRTAB, shstrOff, len(shstrtab), 0, 0, 1, 0)

	return append(buf, sh...), shoff
}

// WriteFile encodes the image into path.
func (img Image) WriteFile(path string) error {
	return os.WriteFile(path, img.Bytes(), 0o644)
}
