//go:build dpi && nemu

// Command export builds the shared library that the hardware simulator loads
// through DPI-C:
//
//	go build -tags dpi,nemu -buildmode=c-shared -o librvcosim.so ./dpi/export
//
// Settings come from a .env file, RVCOSIM_* variables and +key=value
// plusargs on the simulator command line.
package main

/*
#include <stdint.h>
#include <stdlib.h>
#include "svdpi.h"

extern void dump_wave(const char *path);

static uint64_t sim_time(void) {
	svTimeVal t;
	t.type = 2; /* vpiSimTime */
	if (svGetTime(NULL, &t) != 0) {
		return 0;
	}
	return ((uint64_t)t.high << 32) | t.low;
}

static void dump_wave_in(svScope scope, const char *path) {
	svSetScope(scope);
	dump_wave(path);
}
*/
import "C"

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/sarchlab/rvcosim/arch"
	"github.com/sarchlab/rvcosim/config"
	"github.com/sarchlab/rvcosim/dpi"
	"github.com/sarchlab/rvcosim/oracle/nemu"
)

var session = dpi.NewSession()

type simClock struct{}

func (simClock) Now() uint64 {
	return uint64(C.sim_time())
}

type scopedDumper struct {
	scope C.svScope
}

func (d scopedDumper) StartDump(path string) error {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))

	C.dump_wave_in(d.scope, cpath)

	return nil
}

func report(op string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "rvcosim: %s: %v\n", op, err)
	}
}

//export sim_init
func sim_init() {
	cfg := config.Default()
	if err := cfg.LoadEnv(); err != nil {
		panic(err)
	}

	if err := cfg.ApplyPlusArgs(os.Args[1:]); err != nil {
		panic(err)
	}

	scope := C.svGetScope()
	if scope == nil {
		panic("rvcosim: no DPI scope in sim_init")
	}

	err := session.Init(cfg, dpi.Options{
		Oracle:     nemu.New(),
		TimeTeller: simClock{},
		WaveDumper: scopedDumper{scope: scope},
	})
	if err != nil {
		panic(err)
	}
}

//export sim_final
func sim_final() {
	_, err := session.Final()
	report("sim_final", err)
}

//export sim_watchdog
func sim_watchdog(reason *C.char) {
	*reason = C.char(session.Watchdog())
}

//export get_resetvector
func get_resetvector(resetVector *C.longlong) {
	entry, err := session.ResetVector()
	if err != nil {
		report("get_resetvector", err)
		return
	}

	*resetVector = C.longlong(entry)
}

//export retire_instruction
func retire_instruction(src *C.uint32_t) {
	buf := C.GoBytes(unsafe.Pointer(src), C.int(arch.RetirementRecordSize))
	report("retire_instruction", session.Retire(buf))
}

//export axi_write_loadStoreAXI
func axi_write_loadStoreAXI(
	channelID, awid, awaddr, awlen, awsize, awburst C.longlong,
	awlock, awcache, awprot, awqos, awregion C.longlong,
	payload *C.uint32_t,
) {
	width := int(session.Config().DataBytes())
	n := dpi.StrobeBytes(width) + width
	buf := C.GoBytes(unsafe.Pointer(payload), C.int(n))

	report("axi_write_loadStoreAXI",
		session.WriteLoadStore(uint32(awaddr), uint8(awsize), buf))
}

//export axi_read_loadStoreAXI
func axi_read_loadStoreAXI(
	channelID, arid, araddr, arlen, arsize, arburst C.longlong,
	arlock, arcache, arprot, arqos, arregion C.longlong,
	payload *C.uint32_t,
) {
	data, err := session.ReadLoadStore(uint32(araddr), uint8(arsize))
	report("axi_read_loadStoreAXI", err)
	fill(payload, data)
}

//export axi_read_instructionFetchAXI
func axi_read_instructionFetchAXI(
	channelID, arid, araddr, arlen, arsize, arburst C.longlong,
	arlock, arcache, arprot, arqos, arregion C.longlong,
	payload *C.uint32_t,
) {
	data, err := session.ReadFetch(uint32(araddr), uint8(arsize))
	report("axi_read_instructionFetchAXI", err)
	fill(payload, data)
}

func fill(payload *C.uint32_t, data []byte) {
	if len(data) == 0 {
		return
	}

	dst := unsafe.Slice((*byte)(unsafe.Pointer(payload)), len(data))
	copy(dst, data)
}

func main() {}
