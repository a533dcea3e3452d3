package monitoring

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rvcosim/arch"
	"github.com/sarchlab/rvcosim/driver"
	"github.com/sarchlab/rvcosim/hooking"
)

var _ = Describe("Monitor", func() {
	var (
		m       *Monitor
		handler http.Handler
	)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

		return rec
	}

	BeforeEach(func() {
		m = NewMonitor()
		handler = m.Handler()
	})

	It("should fall back to a random port for reserved ports", func() {
		m.WithPortNumber(80)

		Expect(m.portNumber).To(Equal(0))
	})

	It("should report 404 without sources", func() {
		Expect(get("/api/status").Code).To(Equal(http.StatusNotFound))
		Expect(get("/api/arch").Code).To(Equal(http.StatusNotFound))
		Expect(get("/api/progress").Code).To(Equal(http.StatusNotFound))
	})

	It("should serve the run status", func() {
		m.RegisterStatusSource(func() driver.Status {
			return driver.Status{Name: "Driver", State: driver.Timeout, Retired: 12}
		})

		rsp := get("/api/status")
		Expect(rsp.Code).To(Equal(http.StatusOK))

		var body map[string]any
		Expect(json.Unmarshal(rsp.Body.Bytes(), &body)).To(Succeed())
		Expect(body["state_name"]).To(Equal("Timeout"))
		Expect(body["exit_code"]).To(BeNumerically("==", 3))
		Expect(body["Retired"]).To(BeNumerically("==", 12))
	})

	Context("with a reference model state", func() {
		BeforeEach(func() {
			m.RegisterArchSource(func() arch.ArchState {
				s := arch.ArchState{PC: 0x80000000}
				s.GPR[10] = 7
				s.CSR[arch.CSRMEPC] = 0x80000040

				return s
			})
		})

		It("should serve the whole state", func() {
			rsp := get("/api/arch")

			Expect(rsp.Code).To(Equal(http.StatusOK))
			Expect(rsp.Body.String()).To(ContainSubstring(`"PC"`))
			Expect(rsp.Body.String()).To(ContainSubstring(`"GPR"`))
			Expect(rsp.Body.String()).To(ContainSubstring(`"a0"`))
			Expect(rsp.Body.String()).To(ContainSubstring(`"v":2147483648`))
		})

		It("should serve a single register", func() {
			rsp := get("/api/arch/GPR.a0")

			Expect(rsp.Code).To(Equal(http.StatusOK))
			Expect(rsp.Body.String()).To(ContainSubstring(`"v":7`))

			rsp = get("/api/arch/CSR.mepc")

			Expect(rsp.Code).To(Equal(http.StatusOK))
			Expect(rsp.Body.String()).To(ContainSubstring(`"v":2147483712`))
		})

		It("should reject unknown registers", func() {
			Expect(get("/api/arch/GPR.x99").Code).To(Equal(http.StatusBadRequest))
			Expect(get("/api/arch/PC.low").Code).To(Equal(http.StatusBadRequest))
		})
	})

	It("should serve progress", func() {
		p := NewProgressHook()
		p.Func(hooking.HookCtx{Pos: driver.HookPosRetire})
		m.RegisterProgressSource(p.Progress)

		rsp := get("/api/progress")

		Expect(rsp.Code).To(Equal(http.StatusOK))
		Expect(rsp.Body.String()).To(ContainSubstring(`"retired":1`))
	})

	It("should serve process resources", func() {
		rsp := get("/api/resource")

		Expect(rsp.Code).To(Equal(http.StatusOK))
		Expect(rsp.Body.String()).To(ContainSubstring("memory_size"))
	})

	It("should start a server on a random port", func() {
		m.RegisterStatusSource(func() driver.Status {
			return driver.Status{Name: "Driver"}
		})

		addr, err := m.StartServer()
		Expect(err).NotTo(HaveOccurred())

		rsp, err := http.Get("http://" + addr + "/api/status")
		Expect(err).NotTo(HaveOccurred())
		defer rsp.Body.Close()
		Expect(rsp.StatusCode).To(Equal(http.StatusOK))
	})
})

var _ = Describe("ProgressHook", func() {
	It("should count driver events", func() {
		start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		now := start

		h := NewProgressHook()
		h.now = func() time.Time { return now }
		h.progress.StartTime = start

		events := []hooking.HookCtx{
			{Pos: driver.HookPosRetire},
			{Pos: driver.HookPosRetire},
			{Pos: driver.HookPosOverride},
			{Pos: driver.HookPosBusRead, Item: driver.BusAccess{}},
			{Pos: driver.HookPosBusWrite, Item: driver.BusAccess{Err: errors.New("x")}},
			{Pos: driver.HookPosFetch, Item: driver.BusAccess{}},
			{Pos: driver.HookPosDivergence},
			{Pos: driver.HookPosStateChange},
		}

		for _, e := range events {
			h.Func(e)
		}

		now = start.Add(2 * time.Second)
		p := h.Progress()

		Expect(p.Retired).To(Equal(uint64(3)))
		Expect(p.Overrides).To(Equal(uint64(1)))
		Expect(p.Reads).To(Equal(uint64(1)))
		Expect(p.Writes).To(Equal(uint64(1)))
		Expect(p.Fetches).To(Equal(uint64(1)))
		Expect(p.BusErrors).To(Equal(uint64(1)))
		Expect(p.Divergences).To(Equal(uint64(1)))
		Expect(p.RetiredPerSecond).To(Equal(1.5))
	})
})
