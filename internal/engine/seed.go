package engine

import "trackifyr/internal/domain"

func strptr(s string) *string { return &s }

// defaultProjects is the sample hierarchy seeded on first run: one project,
// two milestones, and a three-task dependency chain plus one free task.
func defaultProjects() []domain.Project {
	return []domain.Project{{
		ID:   "p-1",
		Name: "Initial Setup Project",
		Milestones: []domain.Milestone{{
			ID:   "m-1",
			Name: "Phase I: Core Functionality",
			Tasks: []domain.Task{{
				ID:          "t-1",
				Name:        "Define Data Structures",
				Description: "Settle the project, milestone, and task schemas.",
				Status:      domain.StatusComplete,
			}, {
				ID:           "t-2",
				Name:         "Implement Key/Value Store",
				Description:  "Persist the snapshot through the storage adapter.",
				Status:       domain.StatusPending,
				DependencyID: strptr("t-1"),
			}, {
				ID:           "t-3",
				Name:         "Wire Up the Engine",
				Description:  "Route every mutation through validation and persistence.",
				Status:       domain.StatusPending,
				DependencyID: strptr("t-2"),
			}},
		}, {
			ID:   "m-2",
			Name: "Phase II: UI/UX",
			Tasks: []domain.Task{{
				ID:          "t-4",
				Name:        "Implement Theme Toggle",
				Description: "Make dark/light mode functional.",
				Status:      domain.StatusPending,
			}},
		}},
	}}
}
