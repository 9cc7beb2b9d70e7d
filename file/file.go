// Package file persists settings, fitted calibration models and the tare
// record to disk as JSON.
//
// The core packages only define the serialized shapes; this package is the
// collaborator that does the actual file I/O.
package file

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/CK6170/suspscale-go/calib"
	"github.com/CK6170/suspscale-go/models"
	"github.com/CK6170/suspscale-go/tare"
)

// LoadSettings reads and validates a settings.json.
func LoadSettings(path string) (*models.SETTINGS, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	var s models.SETTINGS
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	if s.SERIAL == nil {
		return nil, fmt.Errorf("missing SERIAL section in %s", path)
	}
	if s.SERIAL.BAUDRATE <= 0 {
		return nil, fmt.Errorf("invalid BAUDRATE in %s", path)
	}
	return &s, nil
}

// PersistSettings overwrites the JSON file at path with the provided
// settings. Primarily used to write back an auto-detected SERIAL.PORT.
func PersistSettings(path string, s *models.SETTINGS) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

// calibrationFile is the on-disk envelope for fitted models, one record per
// (side, source) channel.
type calibrationFile struct {
	Models []*calib.Model `json:"models"`
}

// SaveCalibration writes all fitted models to path.
func SaveCalibration(path string, ms []*calib.Model) error {
	data, err := json.MarshalIndent(calibrationFile{Models: ms}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal calibration: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write calibration: %w", err)
	}
	return nil
}

// LoadCalibration reads fitted models back from path.
func LoadCalibration(path string) ([]*calib.Model, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read calibration: %w", err)
	}
	var f calibrationFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse calibration: %w", err)
	}
	return f.Models, nil
}

// SaveTare writes the four-slot tare record to path.
func SaveTare(path string, r tare.Record) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal tare record: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write tare record: %w", err)
	}
	return nil
}

// LoadTare reads a tare record from path.
func LoadTare(path string) (tare.Record, error) {
	var r tare.Record
	raw, err := os.ReadFile(path)
	if err != nil {
		return r, fmt.Errorf("read tare record: %w", err)
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return r, fmt.Errorf("parse tare record: %w", err)
	}
	return r, nil
}
