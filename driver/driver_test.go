package driver

import (
	"bytes"
	"errors"
	"log"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/rvcosim/arch"
	"github.com/sarchlab/rvcosim/bus"
	"github.com/sarchlab/rvcosim/hooking"
	"github.com/sarchlab/rvcosim/loader/elftest"
)

const entry = 0x8000_0000

func writeProgram(dir string) string {
	path := filepath.Join(dir, "prog.elf")
	img := elftest.Image{
		Entry: entry,
		Segments: []elftest.Segment{
			{Vaddr: entry, Data: []byte{
				0x13, 0x05, 0x00, 0x00,
				0x93, 0x02, 0x70, 0x00,
				0x11, 0x22, 0x33, 0x44,
				0x55, 0x66, 0x77, 0x88,
			}},
		},
		Funcs: []elftest.Symbol{{Name: "_start", Addr: entry, Size: 16}},
	}
	Expect(img.WriteFile(path)).To(Succeed())

	return path
}

func strobeOf(bits ...bool) []bool {
	return bits
}

var _ = Describe("Driver", func() {
	var (
		mockCtrl *gomock.Controller
		oracle   *MockOracle
		clock    *ManualClock
		logBuf   *bytes.Buffer
		console  *bytes.Buffer
		elfPath  string
		builder  Builder
		d        *Driver
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		oracle = NewMockOracle(mockCtrl)
		clock = &ManualClock{}
		logBuf = new(bytes.Buffer)
		console = new(bytes.Buffer)
		elfPath = writeProgram(GinkgoT().TempDir())

		oracle.EXPECT().LoadMemory(gomock.Any(), gomock.Any()).
			Return(nil).AnyTimes()

		builder = MakeBuilder().
			WithOracle(oracle).
			WithELF(elfPath).
			WithTimeTeller(clock).
			WithClockPeriod(10).
			WithTimeout(100).
			WithConsole(console).
			WithLogger(log.New(logBuf, "", 0))
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	build := func() {
		oracle.EXPECT().ReadState().
			Return(arch.ArchState{PC: entry}, nil)

		var err error
		d, err = builder.Build("Driver")
		Expect(err).NotTo(HaveOccurred())
	}

	Context("when building", func() {
		It("should require a reference model", func() {
			_, err := MakeBuilder().WithELF(elfPath).Build("Driver")

			Expect(err).To(HaveOccurred())
		})

		It("should reject odd bus widths", func() {
			_, err := builder.WithDataWidth(24).Build("Driver")

			Expect(err).To(HaveOccurred())
		})

		It("should fail when the program cannot be loaded", func() {
			_, err := builder.WithELF("/nonexistent.elf").Build("Driver")

			Expect(err).To(HaveOccurred())
		})

		It("should seed the reference model with the program", func() {
			mockCtrl = gomock.NewController(GinkgoT())
			oracle = NewMockOracle(mockCtrl)
			oracle.EXPECT().
				LoadMemory(uint64(entry), gomock.Len(16)).
				Return(nil)
			oracle.EXPECT().ReadState().Return(arch.ArchState{PC: entry}, nil)

			d, err := builder.WithOracle(oracle).Build("Driver")

			Expect(err).NotTo(HaveOccurred())
			Expect(d.Program().Entry).To(Equal(uint64(entry)))
			Expect(d.Status().PC).To(Equal(uint64(entry)))
		})

		It("should fail when the reference model cannot report its state", func() {
			oracle.EXPECT().ReadState().
				Return(arch.ArchState{}, errors.New("no state"))

			_, err := builder.Build("Driver")

			Expect(err).To(MatchError(ContainSubstring("no state")))
		})

		It("should start counting progress at the current tick", func() {
			clock.Set(500)
			build()

			Expect(d.Status().LastCommitTick).To(Equal(uint64(50)))
			Expect(d.Poll()).To(Equal(Running))
		})
	})

	Context("when serving the bus", func() {
		BeforeEach(func() {
			build()
		})

		It("should place narrow reads in their lane", func() {
			data, err := d.HandleRead(entry+6, 1)

			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal([]byte{0, 0, 0x70, 0x00}))
			Expect(d.State()).To(Equal(Running))
		})

		It("should fetch over the fetch bus width", func() {
			data, err := d.HandleFetch(entry, 2)

			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(HaveLen(32))
			Expect(data[:4]).To(Equal([]byte{0x13, 0x05, 0x00, 0x00}))
			Expect(d.Status().Fetches).To(Equal(uint64(1)))
		})

		It("should end the run when a read leads nowhere", func() {
			data, err := d.HandleRead(0x1000, 2)

			Expect(errors.Is(err, bus.ErrNoDevice)).To(BeTrue())
			Expect(data).To(Equal(make([]byte, 4)))
			Expect(d.Poll()).To(Equal(BadTrap))
		})

		It("should end the run on unaligned reads", func() {
			_, err := d.HandleRead(entry+1, 2)

			Expect(errors.Is(err, bus.ErrUnaligned)).To(BeTrue())
			Expect(d.State()).To(Equal(BadTrap))
		})

		It("should commit strobed bytes only", func() {
			err := d.HandleWrite(entry+8, 1,
				strobeOf(false, false, true, true),
				[]byte{0xaa, 0xbb, 0xcc, 0xdd})
			Expect(err).NotTo(HaveOccurred())

			data, _ := d.HandleRead(entry+8, 2)
			Expect(data).To(Equal([]byte{0x11, 0x22, 0xcc, 0xdd}))
		})

		It("should count a write as progress", func() {
			clock.Set(800)

			err := d.HandleWrite(entry+8, 2,
				strobeOf(true, true, true, true), []byte{1, 2, 3, 4})

			Expect(err).NotTo(HaveOccurred())
			Expect(d.Status().LastCommitTick).To(Equal(uint64(80)))
		})

		It("should not count a read as progress", func() {
			clock.Set(800)

			_, err := d.HandleRead(entry, 2)

			Expect(err).NotTo(HaveOccurred())
			Expect(d.Status().LastCommitTick).To(Equal(uint64(0)))
		})

		It("should print to the console through the UART", func() {
			err := d.HandleWrite(bus.DefaultUARTBase+bus.UARTTxFIFO, 0,
				strobeOf(true, true, true, true), []byte{'h', 0, 0, 0})

			Expect(err).NotTo(HaveOccurred())
			Expect(console.String()).To(Equal("h"))
		})

		It("should end the run when a write leads nowhere", func() {
			err := d.HandleWrite(0x1000, 2,
				strobeOf(true, true, true, true), []byte{1, 2, 3, 4})

			Expect(errors.Is(err, bus.ErrNoDevice)).To(BeTrue())
			Expect(d.Poll()).To(Equal(BadTrap))
		})

		It("should finish on the exit sentinel", func() {
			err := d.HandleWrite(ExitAddr, 2,
				strobeOf(true, true, true, true),
				[]byte{0xef, 0xbe, 0xad, 0xde})

			Expect(err).NotTo(HaveOccurred())
			Expect(d.Poll()).To(Equal(Finished))
			Expect(d.State().ExitCode()).To(Equal(0))
		})

		It("should ignore other values at the sentinel address", func() {
			err := d.HandleWrite(ExitAddr, 2,
				strobeOf(true, true, true, true), []byte{1, 0, 0, 0})

			Expect(err).NotTo(HaveOccurred())
			Expect(d.Poll()).To(Equal(Running))
			Expect(logBuf.String()).To(ContainSubstring("ignored"))
		})

		It("should ignore a partially strobed sentinel", func() {
			err := d.HandleWrite(ExitAddr, 2,
				strobeOf(true, true, false, true),
				[]byte{0xef, 0xbe, 0xad, 0xde})

			Expect(err).NotTo(HaveOccurred())
			Expect(d.State()).To(Equal(Running))
		})
	})

	Context("when retiring", func() {
		var rec arch.RetirementRecord

		BeforeEach(func() {
			build()

			rec = arch.RetirementRecord{Inst: 0x00700293, PC: entry}
			rec.GPR[5] = 7
		})

		It("should step and accept a matching state", func() {
			post := arch.ArchState{PC: entry + 4}
			post.GPR[5] = 7

			gomock.InOrder(
				oracle.EXPECT().Step().Return(nil),
				oracle.EXPECT().ReadState().Return(post, nil),
			)

			err := d.Retire(rec)

			Expect(err).NotTo(HaveOccurred())
			Expect(d.State()).To(Equal(Running))
			Expect(d.Status().Retired).To(Equal(uint64(1)))
			Expect(d.Status().PC).To(Equal(uint64(entry + 4)))
			Expect(d.ArchState()).To(Equal(post))
		})

		It("should report a register divergence", func() {
			post := arch.ArchState{PC: entry + 4}
			post.GPR[5] = 8

			oracle.EXPECT().Step().Return(nil)
			oracle.EXPECT().ReadState().Return(post, nil)
			oracle.EXPECT().Display().Return("ref state")

			err := d.Retire(rec)

			var div *DivergenceError
			Expect(errors.As(err, &div)).To(BeTrue())
			Expect(div.Seq).To(Equal(uint64(1)))
			Expect(div.Mismatches).To(HaveLen(1))
			Expect(div.Mismatches[0].Field).To(Equal(arch.FieldGPR))
			Expect(div.Mismatches[0].Index).To(Equal(5))
			Expect(div.Mismatches[0].Expected).To(Equal(uint64(8)))
			Expect(div.Mismatches[0].Actual).To(Equal(uint64(7)))
			Expect(div.Expected.PC).To(Equal(uint64(entry)))
			Expect(d.Poll()).To(Equal(BadTrap))
			Expect(logBuf.String()).To(ContainSubstring("gpr5(t0) mismatch! ref=0x8, dut=0x7"))
			Expect(logBuf.String()).To(ContainSubstring("ref state"))
			Expect(logBuf.String()).To(ContainSubstring("_start"))
		})

		It("should compare the pc before the step", func() {
			rec.PC = entry + 4

			post := arch.ArchState{PC: entry + 4}
			post.GPR[5] = 7

			oracle.EXPECT().Step().Return(nil)
			oracle.EXPECT().ReadState().Return(post, nil)
			oracle.EXPECT().Display().Return("")

			err := d.Retire(rec)

			var div *DivergenceError
			Expect(errors.As(err, &div)).To(BeTrue())
			Expect(div.Mismatches[0].Field).To(Equal(arch.FieldPC))
			Expect(div.Mismatches[0].Expected).To(Equal(uint64(entry)))
		})

		It("should do nothing after the run is over", func() {
			post := arch.ArchState{PC: entry + 4}

			oracle.EXPECT().Step().Return(nil)
			oracle.EXPECT().ReadState().Return(post, nil)
			oracle.EXPECT().Display().Return("")

			Expect(d.Retire(rec)).To(HaveOccurred())
			Expect(d.Retire(rec)).To(Succeed())
			Expect(d.Retire(rec)).To(Succeed())
		})

		It("should override instead of comparing skipped instructions", func() {
			rec.Skip = true
			rec.IsRVC = true
			rec.CSR[arch.CSRMStatus] = 0x1800

			oracle.EXPECT().WriteState(gomock.Any()).
				DoAndReturn(func(s arch.ArchState) error {
					Expect(s.GPR).To(Equal(rec.GPR))
					Expect(s.CSR).To(Equal(rec.CSR))
					Expect(s.PC).To(Equal(uint64(entry + 2)))

					return nil
				})

			Expect(d.Retire(rec)).To(Succeed())
			Expect(d.Status().PC).To(Equal(uint64(entry + 2)))
			Expect(d.State()).To(Equal(Running))
		})

		It("should override with the 4-byte fall-through pc", func() {
			rec.Skip = true

			oracle.EXPECT().WriteState(gomock.Any()).
				DoAndReturn(func(s arch.ArchState) error {
					Expect(s.PC).To(Equal(uint64(entry + 4)))
					return nil
				})

			Expect(d.Retire(rec)).To(Succeed())
			Expect(d.Status().PC).To(Equal(uint64(entry + 4)))
		})

		It("should resume comparing after an override", func() {
			skipped := rec
			skipped.Skip = true

			next := rec
			next.PC = entry + 4

			post := arch.ArchState{PC: entry + 8}
			post.GPR[5] = 7

			gomock.InOrder(
				oracle.EXPECT().WriteState(gomock.Any()).Return(nil),
				oracle.EXPECT().Step().Return(nil),
				oracle.EXPECT().ReadState().Return(post, nil),
			)

			Expect(d.Retire(skipped)).To(Succeed())
			Expect(d.Retire(next)).To(Succeed())
			Expect(d.Status().Retired).To(Equal(uint64(2)))
		})

		It("should end the run when the reference model fails", func() {
			oracle.EXPECT().Step().Return(errors.New("nemu crashed"))

			err := d.Retire(rec)

			Expect(err).To(MatchError(ContainSubstring("nemu crashed")))
			Expect(d.Poll()).To(Equal(BadTrap))
		})

		It("should end the run when an override fails", func() {
			rec.Skip = true
			oracle.EXPECT().WriteState(gomock.Any()).Return(errors.New("bad"))

			Expect(d.Retire(rec)).To(HaveOccurred())
			Expect(d.State()).To(Equal(BadTrap))
		})
	})

	Context("when a trap pc is set", func() {
		var rec arch.RetirementRecord

		BeforeEach(func() {
			builder = builder.WithTrapPC(entry)
			build()

			rec = arch.RetirementRecord{PC: entry}
			oracle.EXPECT().Step().Return(nil)
		})

		It("should end as GoodTrap when a0 is zero", func() {
			oracle.EXPECT().ReadState().Return(arch.ArchState{PC: entry + 4}, nil)

			Expect(d.Retire(rec)).To(Succeed())
			Expect(d.State()).To(Equal(GoodTrap))
		})

		It("should end as BadTrap when a0 is not zero", func() {
			rec.GPR[10] = 1
			post := arch.ArchState{PC: entry + 4}
			post.GPR[10] = 1
			oracle.EXPECT().ReadState().Return(post, nil)

			Expect(d.Retire(rec)).To(Succeed())
			Expect(d.State()).To(Equal(BadTrap))
		})
	})

	Context("when polling the watchdog", func() {
		It("should time out without progress", func() {
			build()

			clock.Set(1000)
			Expect(d.Poll()).To(Equal(Running))

			clock.Set(1010)
			Expect(d.Poll()).To(Equal(Timeout))
			Expect(d.State().ExitCode()).To(Equal(3))
		})

		It("should stay running while instructions retire", func() {
			build()

			oracle.EXPECT().WriteState(gomock.Any()).Return(nil).AnyTimes()
			rec := arch.RetirementRecord{Skip: true}

			for t := uint64(0); t < 5000; t += 500 {
				clock.Set(t)
				Expect(d.Retire(rec)).To(Succeed())
				Expect(d.Poll()).To(Equal(Running))
			}
		})

		It("should time out at the hard deadline", func() {
			builder = builder.WithHardDeadline(50)
			build()

			oracle.EXPECT().WriteState(gomock.Any()).Return(nil)
			clock.Set(510)
			Expect(d.Retire(arch.RetirementRecord{Skip: true})).To(Succeed())

			Expect(d.Poll()).To(Equal(Timeout))
		})

		It("should keep a terminal state", func() {
			build()

			clock.Set(5000)
			Expect(d.Poll()).To(Equal(Timeout))

			Expect(d.HandleWrite(ExitAddr, 2,
				strobeOf(true, true, true, true),
				[]byte{0xef, 0xbe, 0xad, 0xde})).To(Succeed())
			Expect(d.Poll()).To(Equal(Timeout))
		})

		It("should read the time from the time teller", func() {
			tt := NewMockTimeTeller(mockCtrl)
			tt.EXPECT().Now().Return(uint64(20000)).AnyTimes()
			builder = builder.WithTimeTeller(tt)
			build()

			Expect(d.Poll()).To(Equal(Running))
			Expect(d.Status().Tick).To(Equal(uint64(2000)))
		})
	})

	Context("when dumping waves", func() {
		var dumper *MockWaveDumper

		BeforeEach(func() {
			dumper = NewMockWaveDumper(mockCtrl)
			builder = builder.
				WithWaveDumper(dumper).
				WithWaveWindow("run.fst", 10, 30).
				WithTimeout(1000)
			build()
		})

		It("should start the dump once the window opens", func() {
			clock.Set(50)
			Expect(d.Poll()).To(Equal(Running))

			dumper.EXPECT().StartDump("run.fst").Return(nil)

			clock.Set(100)
			Expect(d.Poll()).To(Equal(Running))

			clock.Set(200)
			Expect(d.Poll()).To(Equal(Running))
		})

		It("should finish after the window closes", func() {
			dumper.EXPECT().StartDump("run.fst").Return(nil)

			clock.Set(100)
			d.Poll()

			clock.Set(310)
			Expect(d.Poll()).To(Equal(Finished))
		})

		It("should measure the window in ticks, not in simulator time", func() {
			clock.Set(40)
			Expect(d.Poll()).To(Equal(Running))

			dumper.EXPECT().StartDump("run.fst").Return(nil)

			clock.Set(300)
			Expect(d.Poll()).To(Equal(Running))

			clock.Set(309)
			Expect(d.Poll()).To(Equal(Running))

			clock.Set(310)
			Expect(d.Poll()).To(Equal(Finished))
		})

		It("should not retry a failed dump", func() {
			dumper.EXPECT().StartDump("run.fst").Return(errors.New("no scope"))

			clock.Set(100)
			Expect(d.Poll()).To(Equal(Running))

			clock.Set(110)
			Expect(d.Poll()).To(Equal(Running))
			Expect(logBuf.String()).To(ContainSubstring("no scope"))
		})
	})

	Context("when hooked", func() {
		var hook *MockHook

		BeforeEach(func() {
			build()

			hook = NewMockHook(mockCtrl)
			d.AcceptHook(hook)
		})

		It("should report bus accesses", func() {
			hook.EXPECT().Func(gomock.Any()).Do(func(ctx hooking.HookCtx) {
				Expect(ctx.Pos).To(Equal(HookPosBusRead))

				access := ctx.Item.(BusAccess)
				Expect(access.Addr).To(Equal(uint32(entry)))
				Expect(access.Channel).To(Equal(ChannelLoadStore))
			})

			_, err := d.HandleRead(entry, 2)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should report the end of the run", func() {
			var positions []*hooking.HookPos

			hook.EXPECT().Func(gomock.Any()).
				Do(func(ctx hooking.HookCtx) {
					positions = append(positions, ctx.Pos)

					if ctx.Pos == HookPosStateChange {
						change := ctx.Item.(StateChange)
						Expect(change.From).To(Equal(Running))
						Expect(change.To).To(Equal(Finished))
					}
				}).
				Times(2)

			Expect(d.HandleWrite(ExitAddr, 2,
				strobeOf(true, true, true, true),
				[]byte{0xef, 0xbe, 0xad, 0xde})).To(Succeed())

			Expect(positions).To(Equal([]*hooking.HookPos{
				HookPosStateChange, HookPosBusWrite,
			}))
		})

		It("should report divergences", func() {
			oracle.EXPECT().Step().Return(nil)
			oracle.EXPECT().ReadState().Return(arch.ArchState{PC: entry + 4}, nil)
			oracle.EXPECT().Display().Return("")

			var div *DivergenceError

			hook.EXPECT().Func(gomock.Any()).
				Do(func(ctx hooking.HookCtx) {
					if ctx.Pos == HookPosDivergence {
						div = ctx.Item.(*DivergenceError)
					}
				}).
				Times(2)

			rec := arch.RetirementRecord{PC: entry}
			rec.GPR[1] = 1

			err := d.Retire(rec)
			Expect(err).To(Equal(error(div)))
		})
	})
})

var _ = Describe("State", func() {
	It("should map to exit codes", func() {
		Expect(GoodTrap.ExitCode()).To(Equal(0))
		Expect(Finished.ExitCode()).To(Equal(0))
		Expect(BadTrap.ExitCode()).To(Equal(1))
		Expect(Running.ExitCode()).To(Equal(2))
		Expect(Timeout.ExitCode()).To(Equal(3))
	})

	It("should have names", func() {
		Expect(BadTrap.String()).To(Equal("BadTrap"))
		Expect(State(42).String()).To(Equal("Unknown"))
		Expect(Running.Terminal()).To(BeFalse())
		Expect(Finished.Terminal()).To(BeTrue())
	})
})
