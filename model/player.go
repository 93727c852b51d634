package model

// Health is the player's current and maximum health.
type Health struct {
	Current int `json:"current"`
	Max     int `json:"max"`
}

// PlayerAttributes is the per-player aggregate stats record. It is mutated by
// Start, Finalize, and ResolveEvent and must be treated as one logically
// locked resource per player: the stores run every read-modify-write under
// the same lock or row-locking transaction.
type PlayerAttributes struct {
	PlayerID         string   `json:"player_id"`
	Health           Health   `json:"health"`
	Money            int      `json:"money"`
	Experience       int      `json:"experience"`
	Level            int      `json:"level"`
	Reputation       int      `json:"reputation"`
	TotalHoursWorked int      `json:"total_hours_worked"`
	TrainingBudget   int      `json:"training_budget"`
	IsWorking        bool     `json:"is_working"`
	ActiveCourseID   string   `json:"active_course_id,omitempty"`
	CompletedCourses []string `json:"completed_courses,omitempty"`
	Version          int      `json:"version"`
}

// HasCompletedCourse reports whether the player finished the given course.
func (p PlayerAttributes) HasCompletedCourse(courseID string) bool {
	for _, id := range p.CompletedCourses {
		if id == courseID {
			return true
		}
	}
	return false
}

// ApplyConsequences applies choice deltas to the player's attributes with
// explicit floors: health, money, and reputation are clamped at 0 after a
// possibly negative delta; a negative experience delta has no effect at all.
// The returned Consequences are the deltas as actually applied.
func (p *PlayerAttributes) ApplyConsequences(c Consequences) Consequences {
	var applied Consequences

	before := p.Health.Current
	p.Health.Current = clampFloor(before+c.Health, 0)
	if p.Health.Current > p.Health.Max {
		p.Health.Current = p.Health.Max
	}
	applied.Health = p.Health.Current - before

	before = p.Money
	p.Money = clampFloor(before+c.Money, 0)
	applied.Money = p.Money - before

	before = p.Reputation
	p.Reputation = clampFloor(before+c.Reputation, 0)
	applied.Reputation = p.Reputation - before

	if c.Experience > 0 {
		p.Experience += c.Experience
		applied.Experience = c.Experience
	}

	return applied
}

// AddReward credits a reward to the player's experience and money totals.
func (p *PlayerAttributes) AddReward(r Reward) {
	p.Experience += r.Experience
	p.Money += r.Money
}

func clampFloor(v, floor int) int {
	if v < floor {
		return floor
	}
	return v
}
