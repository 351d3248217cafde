// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package max1704x

import (
	"fmt"
)

// Register sub-addresses. All registers are 16 bit wide and transferred MSB
// first. See the "Register Descriptions" section of the datasheet.
const (
	regVCell   uint8 = 0x02 // R, cell voltage, 78.125µV/LSB
	regSOC     uint8 = 0x04 // R, state of charge, (1/256)%/LSB
	regMode    uint8 = 0x06 // W, quick-start, sleep enable, hibernating flag
	regVersion uint8 = 0x08 // R, chip production version
	regHibRT   uint8 = 0x0A // R/W, hibernation thresholds
	regConfig  uint8 = 0x0C // R/W, RCOMP, sleep, alert configuration
	regVAlert  uint8 = 0x14 // R/W, voltage alert window, 20mV/LSB
	regCRate   uint8 = 0x16 // R, charge rate, signed, 0.208%/h/LSB
	regVReset  uint8 = 0x18 // R/W, reset threshold, comparator disable, chip ID
	regStatus  uint8 = 0x1A // R/W, alert flags, reset indicator
	regCmd     uint8 = 0xFE // W, power-on-reset command
)

// field addresses a contiguous group of bits inside a 16-bit register.
//
// mask is a contiguous run of set bits and shift is the position of its
// lowest set bit, so a value shifted by shift never escapes the mask.
// Whole-register fields use mask 0xFFFF and shift 0.
type field struct {
	reg   uint8
	mask  uint16
	shift uint8
}

// The bit-fields this driver touches. Fields within one register never
// overlap; writing one through writeField leaves its neighbours intact.
var (
	// MODE (0x06).
	fieldQuickStart = field{regMode, 0x4000, 14}
	fieldEnSleep    = field{regMode, 0x2000, 13}
	fieldHibStat    = field{regMode, 0x1000, 12}

	// HIBRT (0x0A): entry threshold in the high byte, activity (exit)
	// threshold in the low byte.
	fieldHibThr = field{regHibRT, 0xFF00, 8}
	fieldActThr = field{regHibRT, 0x00FF, 0}

	// CONFIG (0x0C).
	fieldRComp = field{regConfig, 0xFF00, 8}
	fieldSleep = field{regConfig, 0x0080, 7}
	fieldALSC  = field{regConfig, 0x0040, 6}
	fieldAlert = field{regConfig, 0x0020, 5}
	fieldAThd  = field{regConfig, 0x001F, 0}

	// VALRT (0x14): minimum in the high byte, maximum in the low byte.
	fieldVAlertMin = field{regVAlert, 0xFF00, 8}
	fieldVAlertMax = field{regVAlert, 0x00FF, 0}

	// VRESET/ID (0x18).
	fieldVReset  = field{regVReset, 0xFE00, 9}
	fieldCompDis = field{regVReset, 0x0100, 8}
	fieldID      = field{regVReset, 0x00FF, 0}

	// STATUS (0x1A). The flag byte groups the reset indicator and the five
	// alert sources; EnVR gates voltage-reset alerting.
	fieldEnVR        = field{regStatus, 0x4000, 14}
	fieldStatusFlags = field{regStatus, 0x3F00, 8}
	fieldRI          = field{regStatus, 0x0100, 8}
)

// readRegister transfers one 16-bit register, MSB first.
func (d *Dev) readRegister(reg uint8) (uint16, error) {
	var r [2]byte
	if err := d.d.Tx([]byte{reg}, r[:]); err != nil {
		return 0, err
	}
	return uint16(r[0])<<8 | uint16(r[1]), nil
}

// readSigned reads a register holding a two's-complement quantity. Only the
// charge rate register uses this form.
func (d *Dev) readSigned(reg uint8) (int16, error) {
	v, err := d.readRegister(reg)
	return int16(v), err
}

// writeRegister transfers one 16-bit register, MSB first.
func (d *Dev) writeRegister(reg uint8, v uint16) error {
	return d.d.Tx([]byte{reg, byte(v >> 8), byte(v)}, nil)
}

// readField reads the register holding f and extracts the field's bits.
func (d *Dev) readField(f field) (uint16, error) {
	v, err := d.readRegister(f.reg)
	if err != nil {
		return 0, err
	}
	if f.mask == 0xFFFF && f.shift == 0 {
		return v, nil
	}
	return (v & f.mask) >> f.shift, nil
}

// writeField merges v into the field's bits, preserving the rest of the
// register through a read-modify-write. A whole-register field is written
// directly without the preceding read.
//
// v must fit the field's width; an oversized value fails with
// ErrValueOutOfRange before any bus transaction is issued. The
// read-modify-write is not atomic: see the synchronization note on Dev.
func (d *Dev) writeField(f field, v uint16) error {
	if v&^(f.mask>>f.shift) != 0 {
		return fmt.Errorf("%w: 0x%04X exceeds %d-bit field in register 0x%02X", ErrValueOutOfRange, v, fieldWidth(f.mask), f.reg)
	}
	if f.mask == 0xFFFF && f.shift == 0 {
		return d.writeRegister(f.reg, v)
	}
	cur, err := d.readRegister(f.reg)
	if err != nil {
		return err
	}
	cur &^= f.mask
	cur |= v << f.shift
	return d.writeRegister(f.reg, cur)
}

// fieldWidth counts the set bits of a contiguous mask.
func fieldWidth(mask uint16) int {
	n := 0
	for ; mask != 0; mask >>= 1 {
		if mask&1 != 0 {
			n++
		}
	}
	return n
}
