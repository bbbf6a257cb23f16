package sensor

import (
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// readMilli reads a sysfs attribute holding a single integer in thousandths.
func readMilli(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.Wrapf(err, "read %s", path)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return 0, errors.Wrapf(ErrEmpty, "read %s", path)
	}
	v, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parse %s", path)
	}
	return float64(v) / 1000, nil
}
