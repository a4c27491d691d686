// Package ina219 reads bus voltage, shunt voltage, current and power from a
// TI INA219 power monitor, calibrated for a 0.1Ω shunt, 32V and 2A.
package ina219

// based on: https://www.waveshare.com/wiki/UPS_Module_3S

import (
	"github.com/pkg/errors"
	"periph.io/x/conn/v3/i2c"
)

const (
	regConfig       uint8 = 0x00
	regShuntVoltage uint8 = 0x01
	regBusVoltage   uint8 = 0x02
	regPower        uint8 = 0x03
	regCurrent      uint8 = 0x04
	regCalibration  uint8 = 0x05
)

// config register fields
const (
	range32V           = 0x01 // bus voltage range 32V
	gainDiv8           = 0x03 // shunt gain /8, 320mV
	adc12Bit32Samples  = 0x0D // 17.02ms per conversion
	modeShuntBusContin = 0x07
)

const (
	// AddressDefault is the address of the INA219 on the Waveshare UPS 3S.
	AddressDefault uint16 = 0x41

	calibration = 4096
	// 100µA per bit
	currentLSB = 0.0001
	// 2mW per bit
	powerLSB = 0.002

	shuntLSB = 0.00001 // 10µV
	busLSB   = 0.004   // 4mV
)

// Config is the value written to the config register.
const Config uint16 = range32V<<13 | gainDiv8<<11 | adc12Bit32Samples<<7 | adc12Bit32Samples<<3 | modeShuntBusContin

// Dev is one INA219 on an I2C bus.
type Dev struct {
	d *i2c.Dev
}

// New calibrates the chip at addr on bus.
func New(bus i2c.Bus, addr uint16) (*Dev, error) {
	dev := &Dev{d: &i2c.Dev{Bus: bus, Addr: addr}}
	if err := dev.write(regCalibration, calibration); err != nil {
		return nil, errors.Wrap(err, "could not calibrate ina219")
	}
	if err := dev.write(regConfig, Config); err != nil {
		return nil, errors.Wrap(err, "could not configure ina219")
	}
	return dev, nil
}

func (d *Dev) write(reg uint8, v uint16) error {
	return d.d.Tx([]byte{reg, byte(v >> 8), byte(v)}, nil)
}

func (d *Dev) read(reg uint8) (uint16, error) {
	r := make([]byte, 2)
	if err := d.d.Tx([]byte{reg}, r); err != nil {
		return 0, err
	}
	return uint16(r[0])<<8 | uint16(r[1]), nil
}

// the chip can lose its calibration on a brown-out; rewrite it before
// voltage reads
func (d *Dev) readCalibrated(reg uint8) (uint16, error) {
	if err := d.write(regCalibration, calibration); err != nil {
		return 0, err
	}
	return d.read(reg)
}

// ShuntVoltage returns the voltage across the shunt in volts. It is
// negative while the battery discharges.
func (d *Dev) ShuntVoltage() (float64, error) {
	v, err := d.readCalibrated(regShuntVoltage)
	if err != nil {
		return 0, errors.Wrap(err, "could not read shunt voltage")
	}
	return float64(int16(v)) * shuntLSB, nil
}

// BusVoltage returns the load side voltage in volts.
func (d *Dev) BusVoltage() (float64, error) {
	v, err := d.readCalibrated(regBusVoltage)
	if err != nil {
		return 0, errors.Wrap(err, "could not read bus voltage")
	}
	return float64(v>>3) * busLSB, nil
}

// Current returns the current in amperes.
func (d *Dev) Current() (float64, error) {
	v, err := d.read(regCurrent)
	if err != nil {
		return 0, errors.Wrap(err, "could not read current")
	}
	return float64(int16(v)) * currentLSB, nil
}

// Power returns the power in watts.
func (d *Dev) Power() (float64, error) {
	v, err := d.read(regPower)
	if err != nil {
		return 0, errors.Wrap(err, "could not read power")
	}
	return float64(v) * powerLSB, nil
}
