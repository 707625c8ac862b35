package device

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DataType is the on-wire encoding of a register value.
type DataType string

const (
	Float32 DataType = "float32"
	Float64 DataType = "float64"
	Int16   DataType = "int16"
	Uint16  DataType = "uint16"
	Int32   DataType = "int32"
	Uint32  DataType = "uint32"
)

// Words returns the number of 16-bit registers the type occupies, or 0 when unknown.
func (t DataType) Words() uint16 {
	switch t {
	case Int16, Uint16:
		return 1
	case Float32, Int32, Uint32:
		return 2
	case Float64:
		return 4
	}
	return 0
}

// Function selects the Modbus read function.
type Function string

const (
	Holding Function = "holding"
	Input   Function = "input"
)

// Register describes one value read from the meter.
type Register struct {
	Name     string   `yaml:"name" json:"name"`
	Address  uint16   `yaml:"address" json:"address"`
	Type     DataType `yaml:"type" json:"type"`
	Function Function `yaml:"function,omitempty" json:"function,omitempty"`
	Scale    float64  `yaml:"scale,omitempty" json:"scale,omitempty"`
	Unit     string   `yaml:"unit,omitempty" json:"unit,omitempty"`
}

type registerFile struct {
	Registers []Register `yaml:"registers"`
}

// DefaultRegisters is the Janitza UMG 509 float register map.
func DefaultRegisters() []Register {
	return []Register{
		{Name: "power_active_total", Address: 19026, Type: Float32, Unit: "W"},
		{Name: "power_reactive_total", Address: 19042, Type: Float32, Unit: "var"},
		{Name: "power_apparent_total", Address: 19034, Type: Float32, Unit: "VA"},
		{Name: "energy_active_import", Address: 19068, Type: Float32, Unit: "Wh"},
		{Name: "energy_active_export", Address: 19076, Type: Float32, Unit: "Wh"},
		{Name: "energy_reactive_import", Address: 19100, Type: Float32, Unit: "varh"},
		{Name: "energy_reactive_export", Address: 19108, Type: Float32, Unit: "varh"},
		{Name: "voltage_l1", Address: 19000, Type: Float32, Unit: "V"},
		{Name: "voltage_l2", Address: 19002, Type: Float32, Unit: "V"},
		{Name: "voltage_l3", Address: 19004, Type: Float32, Unit: "V"},
		{Name: "current_l1", Address: 19012, Type: Float32, Unit: "A"},
		{Name: "current_l2", Address: 19014, Type: Float32, Unit: "A"},
		{Name: "current_l3", Address: 19016, Type: Float32, Unit: "A"},
		{Name: "frequency", Address: 19050, Type: Float32, Unit: "Hz"},
		{Name: "power_factor", Address: 19044, Type: Float32},
		{Name: "thd_voltage_l1", Address: 19110, Type: Float32, Unit: "%"},
		{Name: "thd_current_l1", Address: 19116, Type: Float32, Unit: "%"},
	}
}

// LoadRegisters reads a YAML register table. A missing file yields
// DefaultRegisters.
func LoadRegisters(path string) ([]Register, error) {
	if path == "" {
		return DefaultRegisters(), nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultRegisters(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read register table: %w", err)
	}
	return ParseRegisters(data)
}

// ParseRegisters decodes and normalizes a YAML register table.
func ParseRegisters(data []byte) ([]Register, error) {
	var file registerFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse register table: %w", err)
	}
	if len(file.Registers) == 0 {
		return nil, errors.New("register table is empty")
	}

	seen := make(map[string]bool, len(file.Registers))
	var errs []error
	for i := range file.Registers {
		r := &file.Registers[i]
		r.Name = strings.TrimSpace(r.Name)
		r.Type = DataType(strings.ToLower(string(r.Type)))
		r.Function = Function(strings.ToLower(string(r.Function)))
		if r.Type == "" {
			r.Type = Float32
		}
		if r.Function == "" {
			r.Function = Holding
		}

		switch {
		case r.Name == "":
			errs = append(errs, fmt.Errorf("register %d: name is required", i))
		case seen[r.Name]:
			errs = append(errs, fmt.Errorf("register %q: duplicate name", r.Name))
		}
		seen[r.Name] = true
		if r.Type.Words() == 0 {
			errs = append(errs, fmt.Errorf("register %q: unknown type %q", r.Name, r.Type))
		}
		if r.Function != Holding && r.Function != Input {
			errs = append(errs, fmt.Errorf("register %q: unknown function %q", r.Name, r.Function))
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return file.Registers, nil
}

// Names returns the register names in table order.
func Names(regs []Register) []string {
	names := make([]string, len(regs))
	for i, r := range regs {
		names[i] = r.Name
	}
	return names
}
