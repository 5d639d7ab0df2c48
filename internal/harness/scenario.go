package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/crmorbit/internal/event"
)

// Scenario defines a conformance scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Devices lists the device ids taking part. The first is the default
	// target of emit steps.
	Devices []string `yaml:"devices"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final documents.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is either an emit or a sync.
type Step struct {
	// Emit is the event type to emit.
	Emit string `yaml:"emit,omitempty"`

	// Device is the emitting device. Default: the first device.
	Device string `yaml:"device,omitempty"`

	// Entity is the envelope entityId. Relation events may leave it empty.
	Entity string `yaml:"entity,omitempty"`

	// At is an offset from testutil.Epoch, e.g. "5s". Empty keeps the
	// shared clock running.
	At string `yaml:"at,omitempty"`

	// Payload is the event payload.
	Payload map[string]any `yaml:"payload,omitempty"`

	// Expect is "ok" or a reducer error code. Default: "ok".
	Expect string `yaml:"expect,omitempty"`

	// Sync names two devices to merge with each other.
	Sync []string `yaml:"sync,omitempty"`
}

// ExpectOK is the outcome of an accepted event.
const ExpectOK = "ok"

// Outcome returns the expected outcome, defaulting to ExpectOK.
func (s Step) Outcome() string {
	if s.Expect == "" {
		return ExpectOK
	}
	return s.Expect
}

// Offset parses At.
func (s Step) Offset() (time.Duration, bool, error) {
	if s.At == "" {
		return 0, false, nil
	}
	d, err := time.ParseDuration(s.At)
	if err != nil {
		return 0, false, err
	}
	return d, true, nil
}

// Assertion validates the final state of one or all devices.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Device restricts the assertion to one device.
	Device string `yaml:"device,omitempty"`

	// Table is a snapshot table, e.g. "audits" or "accountContacts".
	Table string `yaml:"table,omitempty"`

	// ID selects the entity (field, absent).
	ID string `yaml:"id,omitempty"`

	// Field names the entity field (field).
	Field string `yaml:"field,omitempty"`

	// Equals is the expected field value (field).
	Equals any `yaml:"equals,omitempty"`

	// Count is the expected row count (count).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertField     = "field"
	AssertAbsent    = "absent"
	AssertCount     = "count"
	AssertConverged = "converged"
)

// LoadScenario reads and parses a scenario YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML. Unknown fields are rejected so typos
// like "assertion:" fail loudly.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if s.Description == "" {
		return errors.New("description is required")
	}
	if len(s.Devices) == 0 {
		return errors.New("devices list is required and must be non-empty")
	}
	for i, id := range s.Devices {
		if id == "" {
			return fmt.Errorf("devices[%d]: empty device id", i)
		}
		if slices.Index(s.Devices, id) != i {
			return fmt.Errorf("devices[%d]: duplicate device %q", i, id)
		}
	}
	if len(s.Steps) == 0 {
		return errors.New("steps list is required and must be non-empty")
	}
	for i, step := range s.Steps {
		if err := validateStep(s, i, step); err != nil {
			return err
		}
	}
	if len(s.Assertions) == 0 {
		return errors.New("assertions list is required and must be non-empty")
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(s, i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(s *Scenario, i int, step Step) error {
	switch {
	case step.Emit != "" && len(step.Sync) > 0:
		return fmt.Errorf("steps[%d]: emit and sync are exclusive", i)
	case len(step.Sync) > 0:
		if len(step.Sync) != 2 || step.Sync[0] == step.Sync[1] {
			return fmt.Errorf("steps[%d]: sync needs two distinct devices", i)
		}
		for _, id := range step.Sync {
			if !slices.Contains(s.Devices, id) {
				return fmt.Errorf("steps[%d]: unknown device %q", i, id)
			}
		}
		if step.Device != "" || step.Entity != "" || step.Payload != nil || step.Expect != "" || step.At != "" {
			return fmt.Errorf("steps[%d]: sync takes no emit fields", i)
		}
		return nil
	case step.Emit == "":
		return fmt.Errorf("steps[%d]: emit or sync is required", i)
	}

	if !event.Type(step.Emit).Known() {
		return fmt.Errorf("steps[%d]: unknown event type %q", i, step.Emit)
	}
	if step.Device != "" && !slices.Contains(s.Devices, step.Device) {
		return fmt.Errorf("steps[%d]: unknown device %q", i, step.Device)
	}
	if _, _, err := step.Offset(); err != nil {
		return fmt.Errorf("steps[%d]: at: %w", i, err)
	}
	return nil
}

func validateAssertion(s *Scenario, i int, a Assertion) error {
	if a.Device != "" && !slices.Contains(s.Devices, a.Device) {
		return fmt.Errorf("assertions[%d]: unknown device %q", i, a.Device)
	}
	switch a.Type {
	case AssertField:
		if a.Table == "" || a.ID == "" || a.Field == "" {
			return fmt.Errorf("assertions[%d]: table, id and field are required for field", i)
		}
	case AssertAbsent:
		if a.Table == "" || a.ID == "" {
			return fmt.Errorf("assertions[%d]: table and id are required for absent", i)
		}
	case AssertCount:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for count", i)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", i)
		}
	case AssertConverged:
		if len(s.Devices) < 2 {
			return fmt.Errorf("assertions[%d]: converged needs at least two devices", i)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", i)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", i, a.Type)
	}
	return nil
}
