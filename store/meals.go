package store

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// GetPlanningMealPlan returns the single plan in planning status.
func (s *Store) GetPlanningMealPlan() (*MealPlan, error) {
	var plan MealPlan
	err := s.db.Where("status = ?", PlanStatusPlanning).First(&plan).Error
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

// GetOrCreatePlanningMealPlan returns the planning-status plan, creating one
// on the next unused Monday when none exists. week_start_date is unique, so
// the new plan probes forward from the upcoming Monday until it finds a free
// week.
func (s *Store) GetOrCreatePlanningMealPlan(now time.Time) (*MealPlan, error) {
	plan, err := s.GetPlanningMealPlan()
	if err == nil {
		return plan, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("looking up planning meal plan: %w", err)
	}

	start := nextMonday(now)
	for i := 0; i < 52; i++ {
		candidate := start.AddDate(0, 0, 7*i)
		var count int64
		err := s.db.Model(&MealPlan{}).
			Where("week_start_date = ?", candidate).
			Count(&count).Error
		if err != nil {
			return nil, fmt.Errorf("probing week %s: %w", candidate.Format("2006-01-02"), err)
		}
		if count == 0 {
			created := MealPlan{WeekStartDate: candidate, Status: PlanStatusPlanning}
			if err := s.db.Create(&created).Error; err != nil {
				return nil, fmt.Errorf("creating meal plan: %w", err)
			}
			return &created, nil
		}
	}
	return nil, fmt.Errorf("no unused week found within a year of %s", start.Format("2006-01-02"))
}

func nextMonday(now time.Time) time.Time {
	d := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	offset := (int(time.Monday) - int(d.Weekday()) + 7) % 7
	if offset == 0 {
		offset = 7
	}
	return d.AddDate(0, 0, offset)
}

func (s *Store) SaveMealPlan(plan *MealPlan) error {
	if err := s.db.Save(plan).Error; err != nil {
		return fmt.Errorf("saving meal plan %d: %w", plan.ID, err)
	}
	return nil
}

// RecentMealPlans returns plans newest-week-first.
func (s *Store) RecentMealPlans(limit int) ([]MealPlan, error) {
	q := s.db.Order("week_start_date DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []MealPlan
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("loading meal plans: %w", err)
	}
	return out, nil
}
