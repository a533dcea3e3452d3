package bus

import "fmt"

// A Storage keeps the bytes of a device.
//
// The storage is managed in pages. Pages that are never touched by Write are
// not allocated and read as zero, so a large memory costs only what the
// program actually uses.
type Storage struct {
	pageSize uint64
	capacity uint64
	pages    map[uint64][]byte
}

// NewStorage creates a storage object with the specified capacity.
func NewStorage(capacity uint64) *Storage {
	s := new(Storage)

	s.pageSize = 4096
	s.capacity = capacity
	s.pages = make(map[uint64][]byte)

	return s
}

// Capacity returns the number of bytes the storage can hold.
func (s *Storage) Capacity() uint64 {
	return s.capacity
}

func (s *Storage) checkRange(address, length uint64) error {
	if address > s.capacity || length > s.capacity-address {
		return fmt.Errorf(
			"storage access [%#x, %#x) beyond capacity %#x",
			address, address+length, s.capacity)
	}

	return nil
}

func (s *Storage) parseAddress(addr uint64) (pageAddr, inPageAddr uint64) {
	inPageAddr = addr % s.pageSize
	pageAddr = addr - inPageAddr

	return
}

func (s *Storage) page(pageAddr uint64, allocate bool) []byte {
	page, ok := s.pages[pageAddr]
	if !ok && allocate {
		page = make([]byte, s.pageSize)
		s.pages[pageAddr] = page
	}

	return page
}

// Read returns a copy of length bytes starting at address.
func (s *Storage) Read(address, length uint64) ([]byte, error) {
	if err := s.checkRange(address, length); err != nil {
		return nil, err
	}

	res := make([]byte, length)
	s.walk(address, length, func(page []byte, inPage, dataOffset, n uint64) {
		if page != nil {
			copy(res[dataOffset:dataOffset+n], page[inPage:inPage+n])
		}
	}, false)

	return res, nil
}

// Write copies data into the storage starting at address.
func (s *Storage) Write(address uint64, data []byte) error {
	return s.WriteMasked(address, data, nil)
}

// WriteMasked copies the bytes of data whose mask bit is set. A nil mask
// writes every byte.
func (s *Storage) WriteMasked(address uint64, data []byte, mask []bool) error {
	length := uint64(len(data))
	if err := s.checkRange(address, length); err != nil {
		return err
	}

	if mask != nil && len(mask) != len(data) {
		return fmt.Errorf("mask length %d does not match data length %d",
			len(mask), len(data))
	}

	s.walk(address, length, func(page []byte, inPage, dataOffset, n uint64) {
		for i := uint64(0); i < n; i++ {
			if mask == nil || mask[dataOffset+i] {
				page[inPage+i] = data[dataOffset+i]
			}
		}
	}, true)

	return nil
}

func (s *Storage) walk(
	address, length uint64,
	visit func(page []byte, inPage, dataOffset, n uint64),
	allocate bool,
) {
	currAddr := address
	dataOffset := uint64(0)

	for dataOffset < length {
		pageAddr, inPage := s.parseAddress(currAddr)

		n := s.pageSize - inPage
		if left := length - dataOffset; left < n {
			n = left
		}

		visit(s.page(pageAddr, allocate), inPage, dataOffset, n)

		dataOffset += n
		currAddr += n
	}
}
