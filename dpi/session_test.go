package dpi

import (
	"errors"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rvcosim/arch"
	"github.com/sarchlab/rvcosim/config"
	"github.com/sarchlab/rvcosim/driver"
	"github.com/sarchlab/rvcosim/loader/elftest"
	"github.com/sarchlab/rvcosim/oracle/replay"
)

const entry = 0x8000_0000

var _ = Describe("Session", func() {
	var (
		dir    string
		cfg    config.Config
		clock  *driver.ManualClock
		golden *replay.Oracle
		s      *Session
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()

		elfPath := filepath.Join(dir, "prog.elf")
		Expect(elftest.Image{
			Entry: entry,
			Segments: []elftest.Segment{
				{Vaddr: entry, Data: []byte{0x13, 0x05, 0x00, 0x00}},
			},
		}.WriteFile(elfPath)).To(Succeed())

		cfg = config.Default()
		cfg.ELFPath = elfPath
		cfg.LogFile = filepath.Join(dir, "run.log")
		cfg.ExitCodeFile = filepath.Join(dir, "exit_code.txt")

		post := arch.ArchState{PC: entry + 4}
		post.GPR[10] = 0

		var err error
		golden, err = replay.NewFromStates([]arch.ArchState{{PC: entry}, post})
		Expect(err).NotTo(HaveOccurred())

		clock = &driver.ManualClock{}
		s = NewSession()
	})

	initSession := func() {
		Expect(s.Init(cfg, Options{Oracle: golden, TimeTeller: clock})).To(Succeed())
	}

	It("should refuse calls before init", func() {
		_, err := s.ReadLoadStore(entry, 2)
		Expect(err).To(MatchError(ErrNotInitialized))

		Expect(s.WriteLoadStore(entry, 2, nil)).To(MatchError(ErrNotInitialized))
		Expect(s.Retire(nil)).To(MatchError(ErrNotInitialized))
		Expect(s.Watchdog()).To(Equal(uint8(2)))

		_, err = s.Final()
		Expect(err).To(MatchError(ErrNotInitialized))
	})

	It("should only initialize once", func() {
		initSession()

		err := s.Init(cfg, Options{Oracle: golden, TimeTeller: clock})

		Expect(err).To(MatchError(ErrAlreadyInitialized))
	})

	It("should reject an invalid configuration", func() {
		cfg.ELFPath = ""

		Expect(s.Init(cfg, Options{Oracle: golden})).To(HaveOccurred())

		_, err := s.ResetVector()
		Expect(err).To(MatchError(ErrNotInitialized))
	})

	It("should report the entry point", func() {
		initSession()

		pc, err := s.ResetVector()

		Expect(err).NotTo(HaveOccurred())
		Expect(pc).To(Equal(uint64(entry)))
		Expect(golden.Segments()).To(Equal(1))
	})

	It("should ignore reads at time zero", func() {
		initSession()

		data, err := s.ReadLoadStore(entry, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(BeNil())

		data, err = s.ReadFetch(entry, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(BeNil())
	})

	It("should serve reads after time zero", func() {
		initSession()
		clock.Set(10)

		data, err := s.ReadLoadStore(entry, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(Equal([]byte{0x13, 0x05, 0x00, 0x00}))

		data, err = s.ReadFetch(entry, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(HaveLen(32))
	})

	It("should decode write payloads", func() {
		initSession()
		clock.Set(10)

		payload, err := EncodeWritePayload(
			[]bool{true, true, false, false}, []byte{0xaa, 0xbb, 0xcc, 0xdd})
		Expect(err).NotTo(HaveOccurred())

		Expect(s.WriteLoadStore(entry+4, 1, payload)).To(Succeed())

		data, err := s.ReadLoadStore(entry+4, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(Equal([]byte{0xaa, 0xbb, 0, 0}))
	})

	It("should reject short write payloads", func() {
		initSession()

		err := s.WriteLoadStore(entry, 2, []byte{0xf})

		Expect(errors.Is(err, ErrShortPayload)).To(BeTrue())
	})

	It("should check packed retirement records", func() {
		initSession()

		buf, err := arch.RetirementRecord{PC: entry}.MarshalBinary()
		Expect(err).NotTo(HaveOccurred())

		Expect(s.Retire(buf)).To(Succeed())
		Expect(s.Status().Retired).To(Equal(uint64(1)))
		Expect(s.ArchState().PC).To(Equal(uint64(entry + 4)))
		Expect(s.Watchdog()).To(Equal(uint8(2)))
	})

	It("should reject malformed records", func() {
		initSession()

		Expect(errors.Is(s.Retire(make([]byte, 10)), arch.ErrBadLength)).To(BeTrue())
	})

	It("should end on the exit sentinel and write the exit code", func() {
		initSession()

		payload, _ := EncodeWritePayload(
			[]bool{true, true, true, true}, []byte{0xef, 0xbe, 0xad, 0xde})
		Expect(s.WriteLoadStore(driver.ExitAddr, 2, payload)).To(Succeed())
		Expect(s.Watchdog()).To(Equal(uint8(0)))

		state, err := s.Final()
		Expect(err).NotTo(HaveOccurred())
		Expect(state).To(Equal(driver.Finished))

		code, err := os.ReadFile(cfg.ExitCodeFile)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(code)).To(Equal("0\n"))

		log, err := os.ReadFile(cfg.LogFile)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(log)).To(ContainSubstring("exit sentinel written"))
	})

	It("should report a timeout through the watchdog", func() {
		cfg.Timeout = 5
		initSession()

		clock.Set(100)

		Expect(s.Watchdog()).To(Equal(uint8(3)))

		state, err := s.Final()
		Expect(err).NotTo(HaveOccurred())
		Expect(state).To(Equal(driver.Timeout))

		code, _ := os.ReadFile(cfg.ExitCodeFile)
		Expect(string(code)).To(Equal("3\n"))
	})

	It("should record a golden trace", func() {
		cfg.TraceDB = filepath.Join(dir, "run")
		cfg.RecordOracle = true
		initSession()

		buf, _ := arch.RetirementRecord{PC: entry}.MarshalBinary()
		Expect(s.Retire(buf)).To(Succeed())

		_, err := s.Final()
		Expect(err).NotTo(HaveOccurred())

		o, err := replay.Open(cfg.TraceDB + ".sqlite3")
		Expect(err).NotTo(HaveOccurred())
		Expect(o.Remaining()).To(Equal(1))
	})
})
