// Package catalog loads the static activity and event tables from YAML files
// and provides a fast, immutable lookup registry. The tables are read-only
// from the core's perspective.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MikeGii/vomm-sub003/model"
)

// File is the on-disk shape of a catalog YAML file. A file may carry
// activities, events, or both.
type File struct {
	Activities []model.Activity  `yaml:"activities"`
	Events     []model.WorkEvent `yaml:"events"`
}

// Catalog is an immutable registry of activity and event definitions.
// Safe for concurrent reads after construction.
type Catalog struct {
	activities map[string]model.Activity
	events     map[string]model.WorkEvent
	eventList  []model.WorkEvent
}

// New builds a Catalog from parsed definitions. Duplicate IDs are an error.
func New(activities []model.Activity, events []model.WorkEvent) (*Catalog, error) {
	c := &Catalog{
		activities: make(map[string]model.Activity, len(activities)),
		events:     make(map[string]model.WorkEvent, len(events)),
		eventList:  make([]model.WorkEvent, 0, len(events)),
	}
	for _, a := range activities {
		if _, dup := c.activities[a.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate activity id %q", a.ID)
		}
		c.activities[a.ID] = a
	}
	for _, e := range events {
		if _, dup := c.events[e.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate event id %q", e.ID)
		}
		c.events[e.ID] = e
		c.eventList = append(c.eventList, e)
	}
	return c, nil
}

// Load walks the given directories for *.yaml / *.yml files, parses each,
// validates the collected definitions, and returns the registry.
func Load(directories []string) (*Catalog, error) {
	var activities []model.Activity
	var events []model.WorkEvent

	for _, dir := range directories {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if ext != ".yaml" && ext != ".yml" {
				return nil
			}

			f, err := loadFile(path)
			if err != nil {
				return fmt.Errorf("loading %s: %w", path, err)
			}
			activities = append(activities, f.Activities...)
			events = append(events, f.Events...)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("catalog: scanning directory %s: %w", dir, err)
		}
	}

	if errs := validate(activities, events); len(errs) > 0 {
		return nil, fmt.Errorf("catalog: %s", strings.Join(errs, "; "))
	}

	return New(activities, events)
}

func loadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, err
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("parse: %w", err)
	}
	return f, nil
}

// validate checks the collected definitions for structural problems before
// the registry is built.
func validate(activities []model.Activity, events []model.WorkEvent) []string {
	var errs []string
	for _, a := range activities {
		if a.ID == "" {
			errs = append(errs, "activity with empty id")
			continue
		}
		if a.BaseExpPerHour <= 0 {
			errs = append(errs, fmt.Sprintf("activity %q: base_exp_per_hour must be positive", a.ID))
		}
		if a.GrowthRate < 0 {
			errs = append(errs, fmt.Sprintf("activity %q: growth_rate must not be negative", a.ID))
		}
		if a.MaxHours <= 0 {
			errs = append(errs, fmt.Sprintf("activity %q: max_hours must be positive", a.ID))
		}
	}
	for _, e := range events {
		if e.ID == "" {
			errs = append(errs, "event with empty id")
			continue
		}
		if len(e.ActivityTypes) == 0 {
			errs = append(errs, fmt.Sprintf("event %q: activity_types must not be empty", e.ID))
		}
		if len(e.Choices) == 0 {
			errs = append(errs, fmt.Sprintf("event %q: choices must not be empty", e.ID))
		}
		seen := make(map[string]bool, len(e.Choices))
		for _, ch := range e.Choices {
			if ch.ID == "" {
				errs = append(errs, fmt.Sprintf("event %q: choice with empty id", e.ID))
			}
			if seen[ch.ID] {
				errs = append(errs, fmt.Sprintf("event %q: duplicate choice id %q", e.ID, ch.ID))
			}
			seen[ch.ID] = true
		}
	}
	return errs
}

// Activity returns the activity definition for the given ID.
func (c *Catalog) Activity(id string) (model.Activity, bool) {
	a, ok := c.activities[id]
	return a, ok
}

// Event returns the event definition for the given ID.
func (c *Catalog) Event(id string) (model.WorkEvent, bool) {
	e, ok := c.events[id]
	return e, ok
}

// EligibleEvents returns the events applicable to an activity type and
// player level, in load order.
func (c *Catalog) EligibleEvents(activityType string, playerLevel int) []model.WorkEvent {
	var out []model.WorkEvent
	for _, e := range c.eventList {
		if e.AppliesTo(activityType, playerLevel) {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of activities and events loaded.
func (c *Catalog) Len() (activities, events int) {
	return len(c.activities), len(c.events)
}
