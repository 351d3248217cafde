// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package max1704x

import (
	"fmt"
	"math"
)

// InfiniteHours is returned by the time estimators when the battery is not
// moving towards the asked-for state: HoursToEmpty while charging or idle,
// HoursToFull while discharging.
const InfiniteHours = 1e9

// Charge or discharge rates below this magnitude, in percent per hour, are
// too noisy to infer capacity from.
const minUsableRate = 0.05

// currentEpsilon guards the divisions by a caller-supplied current against
// exact zero.
const currentEpsilon = 1e-6

// SetDesignCapacity sets the pack's design capacity in milliamp-hours. The
// gauge itself only tracks relative state of charge; the estimator needs
// this constant for every absolute charge, time and health figure.
func (d *Dev) SetDesignCapacity(mAh float64) {
	d.capacity = mAh
}

// SetDesignEnergy sets the pack's design energy in watt-hours, used by
// RemainingEnergy.
func (d *Dev) SetDesignEnergy(wh float64) {
	d.energy = wh
}

// RemainingCharge returns the estimated charge left in the pack in
// milliamp-hours.
func (d *Dev) RemainingCharge() (float64, error) {
	if d.capacity <= 0 {
		return 0, fmt.Errorf("%w: call SetDesignCapacity first", ErrCapacityUnset)
	}
	soc, err := d.StateOfCharge()
	if err != nil {
		return 0, err
	}
	return d.capacity * soc / 100, nil
}

// RemainingEnergy returns the estimated energy left in the pack in
// watt-hours.
func (d *Dev) RemainingEnergy() (float64, error) {
	if d.energy <= 0 {
		return 0, fmt.Errorf("%w: call SetDesignEnergy first", ErrCapacityUnset)
	}
	soc, err := d.StateOfCharge()
	if err != nil {
		return 0, err
	}
	return d.energy * soc / 100, nil
}

// HoursToEmpty estimates the hours until the pack is empty from the gauge's
// own charge rate reading. It returns InfiniteHours when the pack is
// charging or idle. Unlike the rest of the estimator it needs no design
// capacity, both inputs being relative.
func (d *Dev) HoursToEmpty() (float64, error) {
	soc, err := d.StateOfCharge()
	if err != nil {
		return 0, err
	}
	rate, err := d.ChargeRate()
	if err != nil {
		return 0, err
	}
	// Anything at or above -1e-6%/h is "not discharging" within float noise.
	if rate >= -1e-6 {
		return InfiniteHours, nil
	}
	return soc / math.Abs(rate), nil
}

// HoursToEmptyAtCurrent estimates the hours until the pack is empty at the
// given discharge current in amps, typically from an external current
// sensor. The sign of the current is ignored.
func (d *Dev) HoursToEmptyAtCurrent(amps float64) (float64, error) {
	remaining, err := d.RemainingCharge()
	if err != nil {
		return 0, err
	}
	return remaining / (math.Abs(amps)*1000 + currentEpsilon), nil
}

// ExpectedRate returns the charge rate in percent per hour that the given
// current in amps should produce on a healthy pack. Comparing it against
// ChargeRate exposes capacity fade.
func (d *Dev) ExpectedRate(amps float64) (float64, error) {
	if d.capacity <= 0 {
		return 0, fmt.Errorf("%w: call SetDesignCapacity first", ErrCapacityUnset)
	}
	return amps * 1000 / d.capacity * 100, nil
}

// EffectiveCapacity estimates the pack's present capacity in milliamp-hours
// by relating the given current in amps to the gauge's observed charge rate.
// When the observed rate is too small to be reliable the design capacity is
// returned unchanged.
func (d *Dev) EffectiveCapacity(amps float64) (float64, error) {
	if d.capacity <= 0 {
		return 0, fmt.Errorf("%w: call SetDesignCapacity first", ErrCapacityUnset)
	}
	rate, err := d.ChargeRate()
	if err != nil {
		return 0, err
	}
	if math.Abs(rate) < minUsableRate {
		return d.capacity, nil
	}
	return math.Abs(amps*1000) * 100 / math.Abs(rate), nil
}

// StateOfHealth returns the pack's effective capacity as a percentage of its
// design capacity, given the present current in amps. A healthy pack reads
// near 100; aged packs read lower.
func (d *Dev) StateOfHealth(amps float64) (float64, error) {
	effective, err := d.EffectiveCapacity(amps)
	if err != nil {
		return 0, err
	}
	return 100 * effective / d.capacity, nil
}

// HoursToFull estimates the hours until the pack is full when charged at the
// given current in amps. It returns 0 when the pack is already full and
// InfiniteHours when it is not charging.
//
// The estimate is inflated by a factor of 1.2 to account for the charger
// tapering its current during the constant-voltage phase near full; the raw
// constant-current figure is consistently optimistic.
func (d *Dev) HoursToFull(amps float64) (float64, error) {
	if d.capacity <= 0 {
		return 0, fmt.Errorf("%w: call SetDesignCapacity first", ErrCapacityUnset)
	}
	soc, err := d.StateOfCharge()
	if err != nil {
		return 0, err
	}
	if soc >= 99.9 {
		return 0, nil
	}
	mA := amps * 1000
	if mA <= currentEpsilon {
		return InfiniteHours, nil
	}
	return d.capacity * (100 - soc) / 100 / mA * 1.2, nil
}
