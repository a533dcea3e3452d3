// Package loader places a statically linked RISC-V executable into the bus and
// the reference model before simulation starts.
package loader

import (
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sarchlab/rvcosim/bus"
)

var (
	// ErrNotRISCV is returned when the executable targets another machine.
	ErrNotRISCV = errors.New("not a RISC-V executable")

	// ErrNotExecutable is returned when the file is not a statically linked
	// executable.
	ErrNotExecutable = errors.New("not a statically linked executable")

	// ErrNoProgramHeaders is returned when the file has nothing to load.
	ErrNoProgramHeaders = errors.New("no program headers")

	// ErrBadSegment is returned when a program header points past the end
	// of the file or claims more file bytes than memory bytes.
	ErrBadSegment = errors.New("malformed segment")
)

// A MemorySeeder receives a copy of every loaded segment. The reference model
// is the usual seeder.
type MemorySeeder interface {
	LoadMemory(addr uint64, data []byte) error
}

// A Segment describes one loadable segment of the program.
type Segment struct {
	Vaddr  uint64
	Offset uint64
	Filesz uint64
	Memsz  uint64
}

// Program is the result of loading an executable.
type Program struct {
	Path     string
	Entry    uint64
	Segments []Segment
	Symbols  SymbolTable
}

// Load reads the executable at path, writes all its loadable segments into b,
// and mirrors them into seeder if seeder is not nil.
func Load(path string, b *bus.Bus, seeder MemorySeeder) (*Program, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open elf %s: %w", path, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("open elf %s: %w", path, err)
	}

	f, err := elf.NewFile(file)
	if err != nil {
		return nil, fmt.Errorf("open elf %s: %w", path, err)
	}

	if err := checkHeader(f); err != nil {
		return nil, fmt.Errorf("elf %s: %w", path, err)
	}

	p := &Program{
		Path:  path,
		Entry: f.Entry,
	}

	for i, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD || prog.Filesz == 0 {
			continue
		}

		seg, err := loadSegment(prog, uint64(info.Size()), b, seeder)
		if err != nil {
			return nil, fmt.Errorf("elf %s segment %d: %w", path, i, err)
		}

		p.Segments = append(p.Segments, seg)
	}

	p.Symbols, err = readSymbols(f)
	if err != nil {
		return nil, fmt.Errorf("elf %s symbols: %w", path, err)
	}

	return p, nil
}

func checkHeader(f *elf.File) error {
	if f.Machine != elf.EM_RISCV {
		return fmt.Errorf("%w: machine %s", ErrNotRISCV, f.Machine)
	}

	if f.Type != elf.ET_EXEC {
		return fmt.Errorf("%w: type %s", ErrNotExecutable, f.Type)
	}

	if len(f.Progs) == 0 {
		return ErrNoProgramHeaders
	}

	return nil
}

func checkSegment(prog *elf.Prog, fileSize uint64, b *bus.Bus) error {
	end := prog.Off + prog.Filesz
	if end < prog.Off || end > fileSize {
		return fmt.Errorf("%w: bytes [%#x, %#x) lie beyond the %d byte file",
			ErrBadSegment, prog.Off, end, fileSize)
	}

	if prog.Filesz > prog.Memsz {
		return fmt.Errorf("%w: filesz %#x exceeds memsz %#x",
			ErrBadSegment, prog.Filesz, prog.Memsz)
	}

	if _, ok := b.Resolve(prog.Vaddr, prog.Filesz); !ok {
		return fmt.Errorf("%w: load segment vaddr=%#x len=%dB",
			bus.ErrNoDevice, prog.Vaddr, prog.Filesz)
	}

	return nil
}

func loadSegment(
	prog *elf.Prog,
	fileSize uint64,
	b *bus.Bus,
	seeder MemorySeeder,
) (Segment, error) {
	if err := checkSegment(prog, fileSize, b); err != nil {
		return Segment{}, err
	}

	data := make([]byte, prog.Filesz)

	_, err := io.ReadFull(prog.Open(), data)
	if err != nil {
		return Segment{}, fmt.Errorf("read %d bytes at offset %#x: %w",
			prog.Filesz, prog.Off, err)
	}

	err = b.LoadSegment(prog.Vaddr, data)
	if err != nil {
		return Segment{}, err
	}

	if seeder != nil {
		err = seeder.LoadMemory(prog.Vaddr, data)
		if err != nil {
			return Segment{}, fmt.Errorf("seed reference memory at %#x: %w",
				prog.Vaddr, err)
		}
	}

	return Segment{
		Vaddr:  prog.Vaddr,
		Offset: prog.Off,
		Filesz: prog.Filesz,
		Memsz:  prog.Memsz,
	}, nil
}

func readSymbols(f *elf.File) (SymbolTable, error) {
	syms, err := f.Symbols()
	if errors.Is(err, elf.ErrNoSymbols) {
		return NewSymbolTable(nil), nil
	}

	if err != nil {
		return SymbolTable{}, err
	}

	var funcs []Symbol

	for _, s := range syms {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC {
			continue
		}

		funcs = append(funcs, Symbol{
			Name: s.Name,
			Addr: s.Value,
			Size: s.Size,
		})
	}

	return NewSymbolTable(funcs), nil
}
