package sensor

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// DefaultIIODevice is the first IIO device, where the dht11 kernel driver
// (which also handles DHT22/AM2302) usually registers.
const DefaultIIODevice = "/sys/bus/iio/devices/iio:device0"

const (
	dht22Min = -40.0
	dht22Max = 80.0
)

// DHT22 reads temperature and humidity from the Linux IIO dht11 driver.
// Each read triggers a measurement; the driver returns EIO or ETIMEDOUT on
// a bad checksum or a missed edge, which is surfaced as a read error.
type DHT22 struct {
	device string

	mu          sync.Mutex
	humidity    float64
	hasHumidity bool
}

func NewDHT22(device string) *DHT22 {
	if device == "" {
		device = DefaultIIODevice
	}
	return &DHT22{device: device}
}

func (d *DHT22) Name() string {
	return "dht22:" + filepath.Base(d.device)
}

func (d *DHT22) Read(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	temp, err := readMilli(filepath.Join(d.device, "in_temp_input"))
	if err != nil {
		return 0, errors.Wrap(err, "dht22 temperature")
	}
	if err := checkRange(temp, dht22Min, dht22Max); err != nil {
		return 0, errors.Wrapf(err, "dht22 temperature %.1f", temp)
	}
	hum, err := readMilli(filepath.Join(d.device, "in_humidityrelative_input"))
	if err != nil {
		return 0, errors.Wrap(err, "dht22 humidity")
	}
	if err := checkRange(hum, 0, 100); err != nil {
		return 0, errors.Wrapf(err, "dht22 humidity %.1f", hum)
	}

	d.mu.Lock()
	d.humidity = hum
	d.hasHumidity = true
	d.mu.Unlock()
	return temp, nil
}

// Humidity returns the relative humidity sampled by the last successful Read.
func (d *DHT22) Humidity() (float64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.humidity, d.hasHumidity
}
