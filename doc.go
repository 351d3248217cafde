// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package max1704x controls a Maxim MAX17048/MAX17049 lithium-ion battery
// fuel gauge over an I²C bus.
//
// The gauge uses the ModelGauge algorithm to track the cell's relative state
// of charge continuously. The driver exposes the measured cell voltage, state
// of charge and charge rate, the chip's alert and hibernation machinery, and
// a small capacity estimator that derives remaining charge, remaining energy,
// time-to-empty, time-to-full and state-of-health from the live readings and
// a caller-supplied pack design capacity.
//
// The MAX17043/MAX17044 share the register layout for the subset of registers
// this driver touches, but use different measurement scaling; this driver is
// written for the MAX17048/49 LSB weights.
//
// # Datasheet
//
// https://www.analog.com/media/en/technical-documentation/data-sheets/MAX17048-MAX17049.pdf
package max1704x
