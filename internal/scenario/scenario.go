// Package scenario scripts ground-object arrivals in phases. A mission
// enters the first phase at start and follows triggers on elapsed time or
// engagement counts.
package scenario

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Trigger events.
const (
	EventTimeElapsed     = "time_elapsed"
	EventThreatsExecuted = "threats_executed"
)

// Scenario defines ordered phases and an overall description.
type Scenario struct {
	Name        string  `yaml:"name,omitempty"`
	Description string  `yaml:"description,omitempty"`
	Phases      []Phase `yaml:"phases"`
}

// Phase describes a stage of the mission, the objects that appear when it
// begins and the triggers that end it.
type Phase struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description,omitempty"`
	Spawns      []Spawn   `yaml:"spawns,omitempty"`
	Triggers    []Trigger `yaml:"triggers,omitempty"`
}

// Spawn places a ground object in the world, meters in the local frame.
type Spawn struct {
	Class string  `yaml:"class"`
	X     float64 `yaml:"x"`
	Y     float64 `yaml:"y"`
}

// Trigger moves the scenario to another phase once an event reaches Value.
type Trigger struct {
	Event string `yaml:"event"`
	Value int    `yaml:"value"`
	Next  string `yaml:"next"`
}

// Event represents a runtime measurement that may advance the scenario.
type Event struct {
	Type  string
	Value int
}

// Load reads a YAML scenario definition from disk.
func Load(path string) (*Scenario, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var s Scenario
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := s.check(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return &s, nil
}

// Resolve returns the built-in arc called name, or loads name as a file.
func Resolve(name string) (*Scenario, error) {
	if arc, ok := BuiltIn()[name]; ok {
		return &arc, nil
	}
	return Load(name)
}

func (s *Scenario) check() error {
	if len(s.Phases) == 0 {
		return fmt.Errorf("no phases")
	}
	names := make(map[string]bool, len(s.Phases))
	for _, p := range s.Phases {
		if names[p.Name] {
			return fmt.Errorf("duplicate phase %q", p.Name)
		}
		names[p.Name] = true
	}
	for _, p := range s.Phases {
		for _, tr := range p.Triggers {
			if !names[tr.Next] {
				return fmt.Errorf("phase %q: trigger to unknown phase %q", p.Name, tr.Next)
			}
			if tr.Event != EventTimeElapsed && tr.Event != EventThreatsExecuted {
				return fmt.Errorf("phase %q: unknown trigger event %q", p.Name, tr.Event)
			}
		}
	}
	return nil
}

// Phase returns the phase called name.
func (s *Scenario) Phase(name string) (Phase, bool) {
	for _, p := range s.Phases {
		if p.Name == name {
			return p, true
		}
	}
	return Phase{}, false
}

// NextPhase returns the name of the next phase given the current phase and event.
// If no trigger matches, ok will be false.
func (s *Scenario) NextPhase(current string, ev Event) (next string, ok bool) {
	p, found := s.Phase(current)
	if !found {
		return "", false
	}
	for _, tr := range p.Triggers {
		if tr.Event == ev.Type && ev.Value >= tr.Value {
			return tr.Next, true
		}
	}
	return "", false
}
