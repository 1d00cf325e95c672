// Package offsetstore persists calibration offsets between boots.
//
// Offsets are driver specific (raw LSB in driver-defined units), so the file
// records which driver produced them and Load refuses a mismatch.
package offsetstore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"homesec-ng/internal/imu"
)

type file struct {
	Driver       string      `yaml:"driver"`
	CalibratedAt time.Time   `yaml:"calibrated_at"`
	Offsets      imu.Offsets `yaml:"offsets"`
}

// Load reads offsets saved for driver. A missing file yields an error
// matching os.ErrNotExist.
func Load(path, driver string) (imu.Offsets, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return imu.Offsets{}, err
	}
	var f file
	if err := yaml.Unmarshal(b, &f); err != nil {
		return imu.Offsets{}, fmt.Errorf("offsetstore: parse %s: %w", path, err)
	}
	if f.Driver != driver {
		return imu.Offsets{}, fmt.Errorf("offsetstore: %s holds offsets for driver %q, want %q", path, f.Driver, driver)
	}
	return f.Offsets, nil
}

// Save writes offsets atomically (temp file + rename in the same directory).
func Save(path, driver string, o imu.Offsets, at time.Time) error {
	b, err := yaml.Marshal(file{Driver: driver, CalibratedAt: at.UTC(), Offsets: o})
	if err != nil {
		return fmt.Errorf("offsetstore: encode: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("offsetstore: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("offsetstore: write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("offsetstore: sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("offsetstore: close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("offsetstore: rename to %s: %w", path, err)
	}
	return nil
}
