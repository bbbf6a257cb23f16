package sensor

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// W1DevicesPath is where the Linux w1 bus driver lists slaves.
const W1DevicesPath = "/sys/bus/w1/devices"

const (
	ds18b20Family     = "28-"
	ds18b20PowerOnRaw = 85000
	ds18b20Min        = -55.0
	ds18b20Max        = 125.0
)

// DS18B20 reads a 1-Wire thermometer through the w1_therm sysfs interface.
// The kernel driver runs the convert cycle on every read of w1_slave.
type DS18B20 struct {
	basePath string
	rom      string
}

// NewDS18B20 returns a reader for the given ROM id (e.g. "28-0316a2799aff").
// With an empty rom the first device found on the bus is used on each read,
// so a thermometer plugged in after start is picked up.
func NewDS18B20(basePath, rom string) *DS18B20 {
	if basePath == "" {
		basePath = W1DevicesPath
	}
	return &DS18B20{basePath: basePath, rom: rom}
}

func (d *DS18B20) Name() string {
	if d.rom == "" {
		return "ds18b20"
	}
	return "ds18b20:" + d.rom
}

func (d *DS18B20) Read(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	rom := d.rom
	if rom == "" {
		roms, err := ScanDS18B20(d.basePath)
		if err != nil {
			return 0, err
		}
		if len(roms) == 0 {
			return 0, errors.Wrapf(ErrNoDevice, "ds18b20 scan %s", d.basePath)
		}
		rom = roms[0]
	}

	path := filepath.Join(d.basePath, rom, "w1_slave")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errors.Wrapf(ErrNoDevice, "ds18b20 %s", rom)
		}
		return 0, errors.Wrapf(err, "ds18b20 %s", rom)
	}
	v, err := parseW1Slave(data)
	if err != nil {
		return 0, errors.Wrapf(err, "ds18b20 %s", rom)
	}
	return v, nil
}

// ScanDS18B20 lists DS18B20 ROM ids present on the bus, sorted.
func ScanDS18B20(basePath string) ([]string, error) {
	if basePath == "" {
		basePath = W1DevicesPath
	}
	entries, err := os.ReadDir(basePath)
	if err != nil {
		return nil, errors.Wrapf(err, "scan %s", basePath)
	}
	var roms []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ds18b20Family) {
			roms = append(roms, e.Name())
		}
	}
	return roms, nil
}

// parseW1Slave decodes the two line w1_slave format:
//
//	72 01 4b 46 7f ff 0e 10 57 : crc=57 YES
//	72 01 4b 46 7f ff 0e 10 57 t=23125
func parseW1Slave(data []byte) (float64, error) {
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) < 2 {
		return 0, ErrEmpty
	}
	if !strings.HasSuffix(strings.TrimSpace(lines[0]), "YES") {
		return 0, ErrChecksum
	}
	idx := strings.LastIndex(lines[1], "t=")
	if idx < 0 {
		return 0, ErrEmpty
	}
	raw, err := strconv.Atoi(strings.TrimSpace(lines[1][idx+2:]))
	if err != nil {
		return 0, err
	}
	if raw == ds18b20PowerOnRaw {
		return 0, ErrPowerOnReset
	}
	v := float64(raw) / 1000
	if err := checkRange(v, ds18b20Min, ds18b20Max); err != nil {
		return 0, err
	}
	return v, nil
}
