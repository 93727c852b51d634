package model

// Activity is a static work-shift definition. Read-only from the core's
// perspective; loaded into the catalog at startup.
type Activity struct {
	ID               string   `yaml:"id" json:"id"`
	Name             string   `yaml:"name" json:"name"`
	Type             string   `yaml:"type" json:"type"`
	MinLevel         int      `yaml:"min_level" json:"min_level"`
	BaseExpPerHour   int      `yaml:"base_exp_per_hour" json:"base_exp_per_hour"`
	BaseMoneyPerHour int      `yaml:"base_money_per_hour" json:"base_money_per_hour"`
	GrowthRate       float64  `yaml:"growth_rate" json:"growth_rate"`
	MaxHours         int      `yaml:"max_hours" json:"max_hours"`
	RequiredCourses  []string `yaml:"required_courses" json:"required_courses"`
}

// Reward is an experience/money pair. Sessions persist a snapshot at start
// time so later formula changes never retroactively alter in-flight shifts.
type Reward struct {
	Experience int `json:"experience"`
	Money      int `json:"money"`
}

// WorkEvent is a static narrative event definition from the event catalog.
type WorkEvent struct {
	ID            string        `yaml:"id" json:"id"`
	Title         string        `yaml:"title" json:"title"`
	Text          string        `yaml:"text" json:"text"`
	ActivityTypes []string      `yaml:"activity_types" json:"activity_types"`
	MinLevel      int           `yaml:"min_level" json:"min_level"`
	Choices       []EventChoice `yaml:"choices" json:"choices"`
}

// AppliesTo reports whether the event is eligible for a given activity type
// and player level.
func (e WorkEvent) AppliesTo(activityType string, playerLevel int) bool {
	if playerLevel < e.MinLevel {
		return false
	}
	for _, t := range e.ActivityTypes {
		if t == activityType {
			return true
		}
	}
	return false
}

// Choice returns the choice with the given ID, or nil.
func (e WorkEvent) Choice(choiceID string) *EventChoice {
	for i := range e.Choices {
		if e.Choices[i].ID == choiceID {
			return &e.Choices[i]
		}
	}
	return nil
}

// EventChoice is one selectable response to a WorkEvent.
type EventChoice struct {
	ID           string       `yaml:"id" json:"id"`
	Label        string       `yaml:"label" json:"label"`
	ResultText   string       `yaml:"result_text" json:"result_text"`
	Consequences Consequences `yaml:"consequences" json:"consequences"`
}

// Consequences are the attribute deltas a choice applies. Values may be
// negative.
type Consequences struct {
	Health     int `yaml:"health" json:"health"`
	Money      int `yaml:"money" json:"money"`
	Reputation int `yaml:"reputation" json:"reputation"`
	Experience int `yaml:"experience" json:"experience"`
}

// IsZero reports whether no delta is set.
func (c Consequences) IsZero() bool {
	return c == Consequences{}
}
