// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package max1704x

import (
	"errors"
	"math"
	"strings"
	"testing"

	"periph.io/x/conn/v3/i2c/i2ctest"
	"periph.io/x/conn/v3/physic"
)

func TestNewI2C(t *testing.T) {
	bus := i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: I2CAddr, W: []byte{regVersion}, R: []byte{0x00, 0x12}},
		},
	}
	d, err := NewI2C(&bus, I2CAddr)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(d.String(), "max1704x") {
		t.Fatalf("unexpected String(): %q", d.String())
	}
	if err := d.Halt(); err != nil {
		t.Fatal(err)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestCellVoltage(t *testing.T) {
	bus := i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: I2CAddr, W: []byte{regVCell}, R: []byte{0x40, 0x00}},
		},
	}
	d := testDev(&bus)
	v, err := d.CellVoltage()
	if err != nil {
		t.Fatal(err)
	}
	// 0x4000 × 78.125µV = 1.28V, exact in nanovolts.
	if expected := 1280 * physic.MilliVolt; v != expected {
		t.Fatalf("got %s(%d), want %s(%d)", v, v, expected, expected)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestStateOfCharge(t *testing.T) {
	bus := i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: I2CAddr, W: []byte{regSOC}, R: []byte{0x64, 0x00}},
		},
	}
	d := testDev(&bus)
	soc, err := d.StateOfCharge()
	if err != nil {
		t.Fatal(err)
	}
	if soc != 100.0 {
		t.Fatalf("got %g%%, want 100%%", soc)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestChargeRate(t *testing.T) {
	bus := i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: I2CAddr, W: []byte{regCRate}, R: []byte{0xFF, 0xF9}},
		},
	}
	d := testDev(&bus)
	rate, err := d.ChargeRate()
	if err != nil {
		t.Fatal(err)
	}
	// 0xFFF9 is -7 two's-complement, -7 × 0.208 = -1.456%/h.
	if math.Abs(rate-(-1.456)) > 1e-9 {
		t.Fatalf("got %g%%/h, want -1.456%%/h", rate)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestHibernateThreshold(t *testing.T) {
	bus := i2ctest.Playback{
		Ops: []i2ctest.IO{
			// 53%/h rounds to 0xFF; read-modify-write of the high byte.
			{Addr: I2CAddr, W: []byte{regHibRT}, R: []byte{0x00, 0x00}},
			{Addr: I2CAddr, W: []byte{regHibRT, 0xFF, 0x00}},
			{Addr: I2CAddr, W: []byte{regHibRT}, R: []byte{0xFF, 0x00}},
		},
	}
	d := testDev(&bus)
	if err := d.SetHibernateThreshold(53.0); err != nil {
		t.Fatal(err)
	}
	got, err := d.HibernateThreshold()
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(got-53.0) > crateLSB {
		t.Fatalf("read back %g%%/h, more than one LSB from 53%%/h", got)
	}
	// 54%/h exceeds the 8-bit field: rejected without touching the bus.
	if err := d.SetHibernateThreshold(54.0); !errors.Is(err, ErrValueOutOfRange) {
		t.Fatalf("expected ErrValueOutOfRange, got %v", err)
	}
	if err := d.SetHibernateThreshold(-1.0); !errors.Is(err, ErrValueOutOfRange) {
		t.Fatalf("expected ErrValueOutOfRange, got %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestActivityThreshold(t *testing.T) {
	bus := i2ctest.Playback{
		Ops: []i2ctest.IO{
			// 100mV rounds to 80 LSB of 1.25mV.
			{Addr: I2CAddr, W: []byte{regHibRT}, R: []byte{0xFF, 0x00}},
			{Addr: I2CAddr, W: []byte{regHibRT, 0xFF, 0x50}},
			{Addr: I2CAddr, W: []byte{regHibRT}, R: []byte{0xFF, 0x50}},
		},
	}
	d := testDev(&bus)
	if err := d.SetActivityThreshold(100 * physic.MilliVolt); err != nil {
		t.Fatal(err)
	}
	got, err := d.ActivityThreshold()
	if err != nil {
		t.Fatal(err)
	}
	if expected := 100 * physic.MilliVolt; got != expected {
		t.Fatalf("got %s, want %s", got, expected)
	}
	if err := d.SetActivityThreshold(350 * physic.MilliVolt); !errors.Is(err, ErrValueOutOfRange) {
		t.Fatalf("expected ErrValueOutOfRange, got %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestAlertVoltageWindow(t *testing.T) {
	bus := i2ctest.Playback{
		Ops: []i2ctest.IO{
			// Min 3.2V = 160 LSB of 20mV, in the high byte.
			{Addr: I2CAddr, W: []byte{regVAlert}, R: []byte{0x00, 0xFF}},
			{Addr: I2CAddr, W: []byte{regVAlert, 0xA0, 0xFF}},
			// Max 4.2V = 210 LSB, in the low byte.
			{Addr: I2CAddr, W: []byte{regVAlert}, R: []byte{0xA0, 0xFF}},
			{Addr: I2CAddr, W: []byte{regVAlert, 0xA0, 0xD2}},
			{Addr: I2CAddr, W: []byte{regVAlert}, R: []byte{0xA0, 0xD2}},
			{Addr: I2CAddr, W: []byte{regVAlert}, R: []byte{0xA0, 0xD2}},
		},
	}
	d := testDev(&bus)
	if err := d.SetAlertVoltageMin(3200 * physic.MilliVolt); err != nil {
		t.Fatal(err)
	}
	if err := d.SetAlertVoltageMax(4200 * physic.MilliVolt); err != nil {
		t.Fatal(err)
	}
	min, err := d.AlertVoltageMin()
	if err != nil {
		t.Fatal(err)
	}
	if expected := 3200 * physic.MilliVolt; min != expected {
		t.Fatalf("min %s, want %s", min, expected)
	}
	max, err := d.AlertVoltageMax()
	if err != nil {
		t.Fatal(err)
	}
	if expected := 4200 * physic.MilliVolt; max != expected {
		t.Fatalf("max %s, want %s", max, expected)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestSetResetVoltage(t *testing.T) {
	bus := i2ctest.Playback{
		Ops: []i2ctest.IO{
			// 2.52V = 63 LSB of 40mV in bits 15:9, low bits untouched.
			{Addr: I2CAddr, W: []byte{regVReset}, R: []byte{0x00, 0x5A}},
			{Addr: I2CAddr, W: []byte{regVReset, 0x7E, 0x5A}},
			{Addr: I2CAddr, W: []byte{regVReset}, R: []byte{0x7E, 0x5A}},
		},
	}
	d := testDev(&bus)
	if err := d.SetResetVoltage(2520 * physic.MilliVolt); err != nil {
		t.Fatal(err)
	}
	got, err := d.ResetVoltage()
	if err != nil {
		t.Fatal(err)
	}
	if expected := 2520 * physic.MilliVolt; got != expected {
		t.Fatalf("got %s, want %s", got, expected)
	}
	if err := d.SetResetVoltage(7 * physic.Volt); !errors.Is(err, ErrValueOutOfRange) {
		t.Fatalf("expected ErrValueOutOfRange, got %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestEmptyAlertThreshold(t *testing.T) {
	bus := i2ctest.Playback{
		Ops: []i2ctest.IO{
			// 4% stores as 32-4=28 in CONFIG bits 4:0, RCOMP preserved.
			{Addr: I2CAddr, W: []byte{regConfig}, R: []byte{0x97, 0x00}},
			{Addr: I2CAddr, W: []byte{regConfig, 0x97, 0x1C}},
			{Addr: I2CAddr, W: []byte{regConfig}, R: []byte{0x97, 0x1C}},
		},
	}
	d := testDev(&bus)
	if err := d.SetEmptyAlertThreshold(4); err != nil {
		t.Fatal(err)
	}
	got, err := d.EmptyAlertThreshold()
	if err != nil {
		t.Fatal(err)
	}
	if got != 4 {
		t.Fatalf("got %d%%, want 4%%", got)
	}
	if err := d.SetEmptyAlertThreshold(0); !errors.Is(err, ErrValueOutOfRange) {
		t.Fatalf("expected ErrValueOutOfRange, got %v", err)
	}
	if err := d.SetEmptyAlertThreshold(32); !errors.Is(err, ErrValueOutOfRange) {
		t.Fatalf("expected ErrValueOutOfRange, got %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

// TestSleepGuard verifies that forcing sleep or wake without first enabling
// sleep mode is refused without a single bus transaction.
func TestSleepGuard(t *testing.T) {
	bus := i2ctest.Playback{}
	d := testDev(&bus)
	if err := d.Sleep(); !errors.Is(err, ErrSleepNotEnabled) {
		t.Fatalf("expected ErrSleepNotEnabled, got %v", err)
	}
	if err := d.Wake(); !errors.Is(err, ErrSleepNotEnabled) {
		t.Fatalf("expected ErrSleepNotEnabled, got %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestSleepAfterEnable(t *testing.T) {
	bus := i2ctest.Playback{
		Ops: []i2ctest.IO{
			// MODE.EnSleep.
			{Addr: I2CAddr, W: []byte{regMode}, R: []byte{0x00, 0x00}},
			{Addr: I2CAddr, W: []byte{regMode, 0x20, 0x00}},
			// CONFIG.SLEEP set.
			{Addr: I2CAddr, W: []byte{regConfig}, R: []byte{0x97, 0x1C}},
			{Addr: I2CAddr, W: []byte{regConfig, 0x97, 0x9C}},
			// CONFIG.SLEEP cleared.
			{Addr: I2CAddr, W: []byte{regConfig}, R: []byte{0x97, 0x9C}},
			{Addr: I2CAddr, W: []byte{regConfig, 0x97, 0x1C}},
		},
	}
	d := testDev(&bus)
	if err := d.SetSleepEnabled(true); err != nil {
		t.Fatal(err)
	}
	if err := d.Sleep(); err != nil {
		t.Fatal(err)
	}
	if err := d.Wake(); err != nil {
		t.Fatal(err)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

// TestReset exercises the power-on-reset protocol: command write, reset
// indicator clear, and the verification poll finding the indicator cleared.
func TestReset(t *testing.T) {
	bus := i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: I2CAddr, W: []byte{regCmd, 0x54, 0x00}},
			// Clear the reset indicator.
			{Addr: I2CAddr, W: []byte{regStatus}, R: []byte{0x01, 0x00}},
			{Addr: I2CAddr, W: []byte{regStatus, 0x00, 0x00}},
			// Poll: cleared, done.
			{Addr: I2CAddr, W: []byte{regStatus}, R: []byte{0x00, 0x00}},
		},
	}
	d := testDev(&bus)
	if err := d.Reset(); err != nil {
		t.Fatal(err)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestIsReady(t *testing.T) {
	bus := i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: I2CAddr, W: []byte{regVersion}, R: []byte{0xFF, 0xFF}},
			{Addr: I2CAddr, W: []byte{regVersion}, R: []byte{0x00, 0x12}},
		},
	}
	d := testDev(&bus)
	ready, err := d.IsReady()
	if err != nil {
		t.Fatal(err)
	}
	if ready {
		t.Fatal("all-ones version must report not ready")
	}
	ready, err = d.IsReady()
	if err != nil {
		t.Fatal(err)
	}
	if !ready {
		t.Fatal("valid version must report ready")
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestAlertStatus(t *testing.T) {
	bus := i2ctest.Playback{
		Ops: []i2ctest.IO{
			// VL and HD latched.
			{Addr: I2CAddr, W: []byte{regStatus}, R: []byte{0x14, 0x00}},
			// Clear preserves EnVR in the same register.
			{Addr: I2CAddr, W: []byte{regStatus}, R: []byte{0x54, 0x00}},
			{Addr: I2CAddr, W: []byte{regStatus, 0x40, 0x00}},
		},
	}
	d := testDev(&bus)
	a, err := d.AlertStatus()
	if err != nil {
		t.Fatal(err)
	}
	if expected := AlertVoltageLow | AlertSOCLow; a != expected {
		t.Fatalf("got %s, want %s", a, expected)
	}
	if s := a.String(); s != "voltage-low|soc-low" {
		t.Fatalf("unexpected String(): %q", s)
	}
	if s := AlertStatus(0).String(); s != "none" {
		t.Fatalf("unexpected String(): %q", s)
	}
	if err := d.ClearAlertStatus(); err != nil {
		t.Fatal(err)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}
