// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package max1704x

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

// I2CAddr is the fixed I²C address of the MAX1704x family.
const I2CAddr uint16 = 0x36

var (
	// ErrConnectionFailed is returned when the driver fails to reach the
	// device during construction.
	ErrConnectionFailed = errors.New("failed to connect to MAX1704x")

	// ErrValueOutOfRange is returned when a value passed to a setter does not
	// fit the target register field or lies outside the quantity's datasheet
	// domain. The bus is never touched in that case.
	ErrValueOutOfRange = errors.New("value out of range")

	// ErrSleepNotEnabled is returned by Sleep and Wake when sleep mode was
	// not first enabled with SetSleepEnabled. The call performs no bus
	// transaction; the caller may enable sleep mode and retry.
	ErrSleepNotEnabled = errors.New("sleep mode not enabled")

	// ErrCapacityUnset is returned by the capacity estimator when the
	// required design capacity was not set beforehand.
	ErrCapacityUnset = errors.New("design capacity not set")
)

// Measurement weights fixed by the datasheet.
const (
	// VCELL, 78.125µV per LSB.
	vcellLSB physic.ElectricPotential = 78125 * physic.NanoVolt
	// SOC, 1/256% per LSB.
	socLSB float64 = 1.0 / 256.0
	// CRATE and the HIBRT entry threshold, 0.208% per hour per LSB.
	crateLSB float64 = 0.208
	// HIBRT activity threshold, 1.25mV per LSB.
	actThrLSB physic.ElectricPotential = 1250 * physic.MicroVolt
	// VALRT window bounds, 20mV per LSB.
	vAlertLSB physic.ElectricPotential = 20 * physic.MilliVolt
	// VRESET threshold, 40mV per LSB.
	vResetLSB physic.ElectricPotential = 40 * physic.MilliVolt
	// Largest voltage the 7-bit VRESET field may express.
	vResetMax physic.ElectricPotential = 5 * physic.Volt
)

// A single write of this value to the command register triggers a complete
// power-on reset.
const cmdPOR uint16 = 0x5400

// The two settle tiers of the reset protocol. The chip's internal reset takes
// longer when it was hibernating, hence the much larger second tier.
const (
	resetSettle = 10 * time.Millisecond
	resetRetry  = time.Second
)

// A version register reading of all ones means no responding gauge; some chip
// variants produce it instead of a NAK when the battery is absent.
const versionAbsent uint16 = 0xFFFF

// Dev is a handle to a MAX1704x fuel gauge.
//
// The driver performs no internal locking. A masked register write is a
// read-modify-write of two bus transactions, so concurrent callers sharing
// one Dev must serialize access themselves; an interleaved write to another
// field of the same register can otherwise be lost.
type Dev struct {
	d *i2c.Dev

	// Set when sleep mode was enabled through SetSleepEnabled. The chip
	// ignores the CONFIG sleep bit until MODE.EnSleep is set, so Sleep and
	// Wake refuse to run before that.
	sleepEnabled bool

	// Pack design constants for the capacity estimator, zero when unset.
	capacity float64 // mAh
	energy   float64 // Wh
}

// NewI2C returns a handle to a MAX1704x fuel gauge on the given bus.
//
// The device only decodes address max1704x.I2CAddr. The connection is
// verified with a single register read; a gauge with no battery attached
// still responds, use IsReady to detect that case.
func NewI2C(b i2c.Bus, addr uint16) (*Dev, error) {
	d := &Dev{d: &i2c.Dev{Bus: b, Addr: addr}}
	if _, err := d.readRegister(regVersion); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return d, nil
}

// String implements conn.Resource.
func (d *Dev) String() string {
	return fmt.Sprintf("max1704x: %s", d.d)
}

// Halt implements conn.Resource. The gauge runs its estimation autonomously
// and has nothing to stop; use Sleep to halt measurement explicitly.
func (d *Dev) Halt() error {
	return nil
}

// CellVoltage returns the measured cell voltage. On the MAX17049 this is the
// per-cell voltage of the two-cell stack.
func (d *Dev) CellVoltage() (physic.ElectricPotential, error) {
	v, err := d.readRegister(regVCell)
	if err != nil {
		return 0, err
	}
	return physic.ElectricPotential(v) * vcellLSB, nil
}

// StateOfCharge returns the ModelGauge state of charge estimate in percent.
// Readings slightly above 100% occur while the charger tops the cell off.
func (d *Dev) StateOfCharge() (float64, error) {
	v, err := d.readRegister(regSOC)
	if err != nil {
		return 0, err
	}
	return float64(v) * socLSB, nil
}

// ChargeRate returns the rate of charge or discharge in percent per hour.
// Negative values mean the cell is discharging.
func (d *Dev) ChargeRate() (float64, error) {
	v, err := d.readSigned(regCRate)
	if err != nil {
		return 0, err
	}
	return float64(v) * crateLSB, nil
}

// Version returns the chip production version.
func (d *Dev) Version() (uint16, error) {
	return d.readRegister(regVersion)
}

// ID returns the factory-programmed identifier from the VRESET/ID register.
func (d *Dev) ID() (uint8, error) {
	v, err := d.readField(fieldID)
	return uint8(v), err
}

// IsReady reports whether a responding gauge is attached. A version register
// reading of 0xFFFF is the chip-absent sentinel, not a valid version.
func (d *Dev) IsReady() (bool, error) {
	v, err := d.readRegister(regVersion)
	if err != nil {
		return false, err
	}
	return v != versionAbsent, nil
}

// ActivityThreshold returns the cell voltage change per sample above which
// the gauge exits hibernation.
func (d *Dev) ActivityThreshold() (physic.ElectricPotential, error) {
	v, err := d.readField(fieldActThr)
	if err != nil {
		return 0, err
	}
	return physic.ElectricPotential(v) * actThrLSB, nil
}

// SetActivityThreshold sets the cell voltage change per sample above which
// the gauge exits hibernation. The valid domain is 0 to 318.75mV.
func (d *Dev) SetActivityThreshold(v physic.ElectricPotential) error {
	raw, err := scale(v, actThrLSB, 0xFF)
	if err != nil {
		return err
	}
	return d.writeField(fieldActThr, raw)
}

// HibernateThreshold returns the charge rate in percent per hour below which
// the gauge enters hibernation.
func (d *Dev) HibernateThreshold() (float64, error) {
	v, err := d.readField(fieldHibThr)
	if err != nil {
		return 0, err
	}
	return float64(v) * crateLSB, nil
}

// SetHibernateThreshold sets the charge rate magnitude in percent per hour
// below which the gauge enters hibernation. The valid domain is 0 to 53%/h.
func (d *Dev) SetHibernateThreshold(pctPerHour float64) error {
	if pctPerHour < 0 {
		return fmt.Errorf("%w: hibernate threshold %g%%/h is negative", ErrValueOutOfRange, pctPerHour)
	}
	raw := math.Round(pctPerHour / crateLSB)
	if raw > 0xFF {
		return fmt.Errorf("%w: hibernate threshold %g%%/h exceeds 53%%/h", ErrValueOutOfRange, pctPerHour)
	}
	return d.writeField(fieldHibThr, uint16(raw))
}

// EnableHibernate makes the gauge hibernate whenever possible by saturating
// both hibernation thresholds.
func (d *Dev) EnableHibernate() error {
	return d.writeRegister(regHibRT, 0xFFFF)
}

// DisableHibernate keeps the gauge in active mode by zeroing both
// hibernation thresholds.
func (d *Dev) DisableHibernate() error {
	return d.writeRegister(regHibRT, 0x0000)
}

// IsHibernating reports whether the gauge is currently in hibernate mode.
func (d *Dev) IsHibernating() (bool, error) {
	v, err := d.readField(fieldHibStat)
	return v != 0, err
}

// AlertVoltageMin returns the lower bound of the voltage alert window.
func (d *Dev) AlertVoltageMin() (physic.ElectricPotential, error) {
	v, err := d.readField(fieldVAlertMin)
	if err != nil {
		return 0, err
	}
	return physic.ElectricPotential(v) * vAlertLSB, nil
}

// SetAlertVoltageMin sets the cell voltage below which the gauge asserts an
// alert. The valid domain is 0 to 5.1V.
func (d *Dev) SetAlertVoltageMin(v physic.ElectricPotential) error {
	raw, err := scale(v, vAlertLSB, 0xFF)
	if err != nil {
		return err
	}
	return d.writeField(fieldVAlertMin, raw)
}

// AlertVoltageMax returns the upper bound of the voltage alert window.
func (d *Dev) AlertVoltageMax() (physic.ElectricPotential, error) {
	v, err := d.readField(fieldVAlertMax)
	if err != nil {
		return 0, err
	}
	return physic.ElectricPotential(v) * vAlertLSB, nil
}

// SetAlertVoltageMax sets the cell voltage above which the gauge asserts an
// alert. The valid domain is 0 to 5.1V.
func (d *Dev) SetAlertVoltageMax(v physic.ElectricPotential) error {
	raw, err := scale(v, vAlertLSB, 0xFF)
	if err != nil {
		return err
	}
	return d.writeField(fieldVAlertMax, raw)
}

// ResetVoltage returns the cell voltage threshold below which the gauge
// detects a battery swap and resets itself.
func (d *Dev) ResetVoltage() (physic.ElectricPotential, error) {
	v, err := d.readField(fieldVReset)
	if err != nil {
		return 0, err
	}
	return physic.ElectricPotential(v) * vResetLSB, nil
}

// SetResetVoltage sets the battery swap detection threshold. The datasheet
// recommends 2.5V for most cells; the valid domain is 0 to 5V.
func (d *Dev) SetResetVoltage(v physic.ElectricPotential) error {
	if v > vResetMax {
		return fmt.Errorf("%w: reset voltage %s exceeds %s", ErrValueOutOfRange, v, vResetMax)
	}
	raw, err := scale(v, vResetLSB, 0x7F)
	if err != nil {
		return err
	}
	return d.writeField(fieldVReset, raw)
}

// EmptyAlertThreshold returns the state of charge in percent at which the
// gauge asserts the low-SOC alert.
func (d *Dev) EmptyAlertThreshold() (int, error) {
	v, err := d.readField(fieldAThd)
	if err != nil {
		return 0, err
	}
	// The register stores the threshold inverted.
	return 32 - int(v), nil
}

// SetEmptyAlertThreshold sets the state of charge in percent at which the
// gauge asserts the low-SOC alert. The valid domain is 1 to 31%.
//
// The register encodes the threshold as 32 minus the percentage; the
// inversion is datasheet behavior and is hidden by this accessor.
func (d *Dev) SetEmptyAlertThreshold(pct int) error {
	if pct < 1 || pct > 31 {
		return fmt.Errorf("%w: empty alert threshold %d%% outside 1..31%%", ErrValueOutOfRange, pct)
	}
	return d.writeField(fieldAThd, uint16(32-pct))
}

// RComp returns the ModelGauge compensation byte.
func (d *Dev) RComp() (uint8, error) {
	v, err := d.readField(fieldRComp)
	return uint8(v), err
}

// SetRComp sets the ModelGauge compensation byte. The power-up default of
// 0x97 suits most cells; battery vendors supply tuned values.
func (d *Dev) SetRComp(rcomp uint8) error {
	return d.writeField(fieldRComp, uint16(rcomp))
}

// SetSleepEnabled sets the MODE sleep-enable bit. The chip ignores the
// CONFIG sleep bit, and therefore Sleep and Wake, until this was enabled.
func (d *Dev) SetSleepEnabled(enabled bool) error {
	var v uint16
	if enabled {
		v = 1
	}
	if err := d.writeField(fieldEnSleep, v); err != nil {
		return err
	}
	d.sleepEnabled = enabled
	return nil
}

// Sleep forces the gauge into sleep mode, halting all measurement and
// estimation. It fails with ErrSleepNotEnabled, without any bus transaction,
// if sleep mode was not first enabled through SetSleepEnabled.
func (d *Dev) Sleep() error {
	if !d.sleepEnabled {
		return fmt.Errorf("%w: call SetSleepEnabled(true) before Sleep", ErrSleepNotEnabled)
	}
	return d.writeField(fieldSleep, 1)
}

// Wake brings the gauge out of forced sleep. Like Sleep it requires sleep
// mode to have been enabled first.
func (d *Dev) Wake() error {
	if !d.sleepEnabled {
		return fmt.Errorf("%w: call SetSleepEnabled(true) before Wake", ErrSleepNotEnabled)
	}
	return d.writeField(fieldSleep, 0)
}

// SetComparatorEnabled controls the analog comparator used for battery swap
// detection. Disabling it saves about 0.5µA in hibernation.
func (d *Dev) SetComparatorEnabled(enabled bool) error {
	var v uint16
	if !enabled {
		// The register bit disables the comparator when set.
		v = 1
	}
	return d.writeField(fieldCompDis, v)
}

// SetSOCChangeAlertEnabled controls alerting on every 1% state of charge
// change.
func (d *Dev) SetSOCChangeAlertEnabled(enabled bool) error {
	var v uint16
	if enabled {
		v = 1
	}
	return d.writeField(fieldALSC, v)
}

// SetVoltageResetAlertEnabled controls alerting on battery insertion and
// removal, as detected through the reset voltage comparator.
func (d *Dev) SetVoltageResetAlertEnabled(enabled bool) error {
	var v uint16
	if enabled {
		v = 1
	}
	return d.writeField(fieldEnVR, v)
}

// ClearAlert deasserts the ALRT pin by clearing the CONFIG alert bit. The
// per-source flags in the status register are left for AlertStatus callers
// and are cleared separately with ClearAlertStatus.
func (d *Dev) ClearAlert() error {
	return d.writeField(fieldAlert, 0)
}

// QuickStart restarts the ModelGauge estimation from the current cell
// voltage, discarding learned history. Only use it when the power-up voltage
// reading is known to be corrupted by load transients; a power-on reset is
// the safer way to restart the gauge.
func (d *Dev) QuickStart() error {
	return d.writeField(fieldQuickStart, 1)
}

// AlertStatus is the set of latched alert sources from the status register.
type AlertStatus uint8

const (
	// AlertReset indicates the chip went through a power-on reset and its
	// configuration registers hold defaults.
	AlertReset AlertStatus = 1 << iota
	// AlertVoltageHigh indicates the cell voltage rose above the VALRT
	// window maximum.
	AlertVoltageHigh
	// AlertVoltageLow indicates the cell voltage fell below the VALRT
	// window minimum.
	AlertVoltageLow
	// AlertVoltageReset indicates a battery swap was detected. Only latched
	// while voltage-reset alerting is enabled.
	AlertVoltageReset
	// AlertSOCLow indicates the state of charge fell below the empty alert
	// threshold.
	AlertSOCLow
	// AlertSOCChange indicates a 1% state of charge change. Only latched
	// while SOC change alerting is enabled.
	AlertSOCChange
)

var alertNames = []string{"reset", "voltage-high", "voltage-low", "voltage-reset", "soc-low", "soc-change"}

func (a AlertStatus) String() string {
	if a == 0 {
		return "none"
	}
	var set []string
	for i, name := range alertNames {
		if a&(1<<uint(i)) != 0 {
			set = append(set, name)
		}
	}
	return strings.Join(set, "|")
}

// AlertStatus returns the latched alert sources. The flags stay set until
// cleared with ClearAlertStatus.
func (d *Dev) AlertStatus() (AlertStatus, error) {
	v, err := d.readField(fieldStatusFlags)
	return AlertStatus(v), err
}

// ClearAlertStatus clears all latched alert source flags.
func (d *Dev) ClearAlertStatus() error {
	return d.writeField(fieldStatusFlags, 0)
}

// Reset performs a complete power-on reset of the gauge. All configuration
// registers revert to their defaults and the ModelGauge estimation restarts.
//
// The reset indicator flag is cleared afterwards on a best-effort basis: the
// chip needs a variable amount of time to come back depending on its prior
// state, so after a first short settle the flag is cleared and re-checked,
// and if it is still set the clear is retried once after a longer wait. A
// flag that survives both attempts is left for the chip to resolve.
func (d *Dev) Reset() error {
	if err := d.writeRegister(regCmd, cmdPOR); err != nil {
		return err
	}
	time.Sleep(resetSettle)
	if err := d.writeField(fieldRI, 0); err != nil {
		return err
	}
	ri, err := d.readField(fieldRI)
	if err != nil {
		return err
	}
	if ri == 0 {
		return nil
	}
	time.Sleep(resetRetry)
	return d.writeField(fieldRI, 0)
}

// scale converts a physical value to a raw field value by rounding to the
// field's LSB weight, rejecting values outside 0..max.
func scale(v, lsb physic.ElectricPotential, max uint16) (uint16, error) {
	if v < 0 {
		return 0, fmt.Errorf("%w: %s is negative", ErrValueOutOfRange, v)
	}
	raw := math.Round(float64(v) / float64(lsb))
	if raw > float64(max) {
		return 0, fmt.Errorf("%w: %s exceeds %s", ErrValueOutOfRange, v, physic.ElectricPotential(max)*lsb)
	}
	return uint16(raw), nil
}

var _ conn.Resource = &Dev{}
var _ fmt.Stringer = &Dev{}
