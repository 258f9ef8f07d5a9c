package task

import (
	"math"
	"time"

	"github.com/fastygo/tasksync/domain"
)

type CategoryStats struct {
	Category       domain.Category `json:"category"`
	Label          string          `json:"label"`
	Active         int             `json:"active"`
	Completed      int             `json:"completed"`
	Total          int             `json:"total"`
	CompletionRate int             `json:"completionRate"`
}

type PeriodStats struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
}

type Stats struct {
	Total          int             `json:"totalTasks"`
	Active         int             `json:"activeTasks"`
	Completed      int             `json:"completedTasks"`
	Deleted        int             `json:"deletedTasks"`
	CompletionRate int             `json:"completionRate"`
	Categories     []CategoryStats `json:"categoryStats"`
	Today          PeriodStats     `json:"today"`
	Week           PeriodStats     `json:"week"`
	Month          PeriodStats     `json:"month"`
}

// ComputeStats summarizes c as seen at now, in now's location. Weeks start on Sunday.
// The overall completion rate ignores deleted records.
func ComputeStats(c domain.Collection, now time.Time) Stats {
	loc := now.Location()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	weekStart := dayStart.AddDate(0, 0, -int(now.Weekday()))
	weekEnd := weekStart.AddDate(0, 0, 7)

	var st Stats
	byCategory := make(map[domain.Category]*CategoryStats, len(domain.Categories))
	for _, info := range domain.Categories {
		st.Categories = append(st.Categories, CategoryStats{Category: info.Key, Label: info.Label})
	}
	for i := range st.Categories {
		byCategory[st.Categories[i].Category] = &st.Categories[i]
	}

	for _, t := range c {
		st.Total++
		done := t.Status == domain.StatusCompleted
		switch t.Status {
		case domain.StatusActive:
			st.Active++
		case domain.StatusCompleted:
			st.Completed++
		case domain.StatusDeleted:
			st.Deleted++
		}

		if cs, ok := byCategory[t.Category]; ok {
			cs.Total++
			switch t.Status {
			case domain.StatusActive:
				cs.Active++
			case domain.StatusCompleted:
				cs.Completed++
			}
		}

		created := t.CreatedAt.In(loc)
		if !created.Before(dayStart) && created.Before(dayStart.AddDate(0, 0, 1)) {
			st.Today.add(done)
		}
		if !created.Before(weekStart) && created.Before(weekEnd) {
			st.Week.add(done)
		}
		if created.Year() == now.Year() && created.Month() == now.Month() {
			st.Month.add(done)
		}
	}

	st.CompletionRate = percent(st.Completed, st.Total-st.Deleted)
	for i := range st.Categories {
		st.Categories[i].CompletionRate = percent(st.Categories[i].Completed, st.Categories[i].Total)
	}
	return st
}

// Stats summarizes the current collection.
func (s *Store) Stats() Stats {
	return ComputeStats(s.Snapshot(), s.now())
}

func (p *PeriodStats) add(completed bool) {
	p.Total++
	if completed {
		p.Completed++
	}
}

func percent(part, whole int) int {
	if whole <= 0 {
		return 0
	}
	return int(math.Round(float64(part) / float64(whole) * 100))
}
