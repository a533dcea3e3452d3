package bus

import (
	"errors"
	"fmt"
	"io"
	"sort"
)

var (
	// ErrUnaligned is returned when an access is not aligned to its size or
	// the transfer width is not a multiple of the access size.
	ErrUnaligned = errors.New("unaligned access")

	// ErrNoDevice is returned when no device holds the accessed range.
	ErrNoDevice = errors.New("access leads to nowhere")

	// ErrOverlap is returned when two mappings share an address.
	ErrOverlap = errors.New("device ranges overlap")

	// ErrBadTransfer is returned when the strobe or data of a write does not
	// match the transfer width.
	ErrBadTransfer = errors.New("malformed transfer")
)

// Default device layout.
const (
	DefaultUARTBase   = 0x4060_0000
	DefaultMemoryBase = 0x8000_0000
	DefaultMemorySize = 0x0800_0000
)

// A Mapping places a device at [Base, Base+Size) of the physical address
// space.
type Mapping struct {
	Name   string
	Base   uint64
	Size   uint64
	Device Device
}

func (m Mapping) contains(addr, size uint64) bool {
	return addr >= m.Base && size <= m.Size && addr-m.Base <= m.Size-size
}

// Bus decodes physical addresses to devices. It implements the narrow
// transfer semantics of a wide data bus: a narrow access occupies its natural
// byte lane inside a bus word, and writes only commit the lanes selected by
// the strobe.
type Bus struct {
	mappings []Mapping
}

// NewBus creates a bus with the given mappings. The mappings must not
// overlap.
func NewBus(mappings ...Mapping) (*Bus, error) {
	sorted := make([]Mapping, len(mappings))
	copy(sorted, mappings)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Base < sorted[j].Base
	})

	for i, m := range sorted {
		if m.Size == 0 || m.Device == nil {
			return nil, fmt.Errorf("mapping %q at %#x is empty", m.Name, m.Base)
		}

		if m.Base+m.Size < m.Base {
			return nil, fmt.Errorf("mapping %q at %#x wraps the address space",
				m.Name, m.Base)
		}

		if i > 0 {
			prev := sorted[i-1]
			if prev.Base+prev.Size > m.Base {
				return nil, fmt.Errorf("%w: %q [%#x, %#x) and %q [%#x, %#x)",
					ErrOverlap,
					prev.Name, prev.Base, prev.Base+prev.Size,
					m.Name, m.Base, m.Base+m.Size)
			}
		}
	}

	return &Bus{mappings: sorted}, nil
}

// NewDefaultBus creates the bus of the reference platform: a UART and main
// memory.
func NewDefaultBus(console io.Writer) *Bus {
	b, err := NewBus(
		Mapping{
			Name:   "uart",
			Base:   DefaultUARTBase,
			Size:   UARTSize,
			Device: NewUART(console),
		},
		Mapping{
			Name:   "memory",
			Base:   DefaultMemoryBase,
			Size:   DefaultMemorySize,
			Device: NewMemory(DefaultMemorySize),
		},
	)
	if err != nil {
		panic(err)
	}

	return b
}

// Mappings returns the device mappings ordered by base address.
func (b *Bus) Mappings() []Mapping {
	res := make([]Mapping, len(b.mappings))
	copy(res, b.mappings)

	return res
}

// Resolve finds the mapping that holds [addr, addr+size).
func (b *Bus) Resolve(addr, size uint64) (Mapping, bool) {
	for _, m := range b.mappings {
		if m.contains(addr, size) {
			return m, true
		}
	}

	return Mapping{}, false
}

func checkAlignment(addr, size, width uint64) error {
	if size == 0 || width == 0 || addr%size != 0 || width%size != 0 {
		return fmt.Errorf("%w: addr=%#x size=%dB width=%dB",
			ErrUnaligned, addr, size, width)
	}

	return nil
}

// Read reads size bytes at addr over a bus that is width bytes wide. The
// result is always width bytes long. If the access is narrower than the bus,
// the data sits at byte offset addr%width and the other bytes are zero.
func (b *Bus) Read(addr, size, width uint64) ([]byte, error) {
	if err := checkAlignment(addr, size, width); err != nil {
		return nil, err
	}

	m, ok := b.Resolve(addr, size)
	if !ok {
		return nil, fmt.Errorf("%w: read addr=%#x size=%dB width=%dB",
			ErrNoDevice, addr, size, width)
	}

	data, err := m.Device.Read(addr-m.Base, size)
	if err != nil {
		return nil, fmt.Errorf("read %s at %#x: %w", m.Name, addr, err)
	}

	if size == width {
		return data, nil
	}

	padded := make([]byte, width)
	copy(padded[addr%width:], data)

	return padded, nil
}

// Write commits a bus word. The address is realigned down to the width
// boundary, and only the bytes of data whose strobe bit is set are written.
// A write with no strobe bit set carries no data and is ignored.
func (b *Bus) Write(addr, size, width uint64, strobe []bool, data []byte) error {
	if err := checkAlignment(addr, size, width); err != nil {
		return err
	}

	if width&(width-1) != 0 {
		return fmt.Errorf("%w: width %dB is not a power of two",
			ErrUnaligned, width)
	}

	if uint64(len(strobe)) != width || uint64(len(data)) != width {
		return fmt.Errorf("%w: strobe=%d data=%d width=%dB",
			ErrBadTransfer, len(strobe), len(data), width)
	}

	if !anySet(strobe) {
		return nil
	}

	start := addr &^ (width - 1)

	m, ok := b.Resolve(start, width)
	if !ok {
		return fmt.Errorf("%w: write addr=%#x size=%dB width=%dB",
			ErrNoDevice, addr, size, width)
	}

	err := m.Device.Write(start-m.Base, data, strobe)
	if err != nil {
		return fmt.Errorf("write %s at %#x: %w", m.Name, start, err)
	}

	return nil
}

// LoadSegment writes a program segment into the device that holds it. The
// write ignores alignment and strobes.
func (b *Bus) LoadSegment(addr uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	m, ok := b.Resolve(addr, uint64(len(data)))
	if !ok {
		return fmt.Errorf("%w: load segment vaddr=%#x len=%dB",
			ErrNoDevice, addr, len(data))
	}

	err := m.Device.Write(addr-m.Base, data, nil)
	if err != nil {
		return fmt.Errorf("load segment into %s at %#x: %w", m.Name, addr, err)
	}

	return nil
}

func anySet(strobe []bool) bool {
	for _, s := range strobe {
		if s {
			return true
		}
	}

	return false
}
