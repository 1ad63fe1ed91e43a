package catalog

import "gorm.io/datatypes"

func ptr[T any](v T) *T { return &v }

func requirement(expr string) datatypes.JSONType[Requirement] {
	return datatypes.NewJSONType(Requirement{Expression: expr})
}

// DefaultBundle is the demo catalog shipped with the web client. IDs are
// fixed so seeding twice updates rows in place.
func DefaultBundle() Bundle {
	return Bundle{
		Activities: []*Activity{
			{ID: "activity-public-transport", Name: "Use Public Transport", Description: "Take the bus or train instead of driving.",
				Category: "transport", PointsPerAction: 20, CarbonImpactPerAction: 2.3, Unit: "trip", Icon: "bus", IsActive: true},
			{ID: "activity-cycle", Name: "Cycle or Walk", Description: "Replace a short car ride with cycling or walking.",
				Category: "transport", PointsPerAction: 25, CarbonImpactPerAction: 1.2, Unit: "trip", Icon: "bike", IsActive: true},
			{ID: "activity-plant-tree", Name: "Plant a Tree", Description: "Plant a native tree sapling.",
				Category: "nature", PointsPerAction: 100, CarbonImpactPerAction: 21.8, Unit: "tree", Icon: "tree", IsActive: true},
			{ID: "activity-segregate-waste", Name: "Segregate Waste", Description: "Sort household waste into wet, dry and recyclable.",
				Category: "waste", PointsPerAction: 15, CarbonImpactPerAction: 0.5, Unit: "day", Icon: "recycle", IsActive: true},
			{ID: "activity-save-energy", Name: "Switch Off Appliances", Description: "Unplug idle appliances for a day.",
				Category: "energy", PointsPerAction: 10, CarbonImpactPerAction: 0.8, Unit: "day", Icon: "plug", IsActive: true},
		},
		Quizzes: []*Quiz{
			{
				ID:           "quiz-climate-fundamentals",
				Title:        "Climate Change Fundamentals",
				Description:  "Test your knowledge about global warming, greenhouse gases, and climate impacts.",
				Category:     "Climate Science",
				Difficulty:   DifficultyEasy,
				PointsReward: 150,
				TimeLimit:    300,
				IsActive:     true,
				Questions: []Question{
					{
						Question:    "Which gas contributes most to global warming?",
						Options:     []string{"Oxygen", "Carbon Dioxide", "Nitrogen", "Argon"},
						Correct:     1,
						Explanation: "Carbon dioxide is the primary greenhouse gas responsible for global warming.",
					},
					{
						Question:    "What causes sea level rise?",
						Options:     []string{"Ocean currents", "Thermal expansion and melting ice", "Wind patterns", "Moon phases"},
						Correct:     1,
						Explanation: "Sea level rises due to thermal expansion of warming oceans and melting ice sheets.",
					},
				},
			},
			{
				ID:           "quiz-renewable-energy",
				Title:        "Renewable Energy Quiz",
				Description:  "Explore different types of renewable energy sources and their applications.",
				Category:     "Clean Energy",
				Difficulty:   DifficultyMedium,
				PointsReward: 250,
				TimeLimit:    480,
				IsActive:     true,
				Questions: []Question{
					{
						Question:    "Which renewable energy source is most abundant globally?",
						Options:     []string{"Wind", "Solar", "Hydro", "Geothermal"},
						Correct:     1,
						Explanation: "Solar energy is the most abundant renewable energy source available on Earth.",
					},
				},
			},
			{
				ID:           "quiz-biodiversity",
				Title:        "Biodiversity Challenge",
				Description:  "Advanced questions about ecosystems, species conservation, and biodiversity hotspots.",
				Category:     "Ecology",
				Difficulty:   DifficultyHard,
				PointsReward: 400,
				TimeLimit:    720,
				IsActive:     true,
				Questions: []Question{
					{
						Question:    "Which region has the highest biodiversity in India?",
						Options:     []string{"Western Ghats", "Himalayas", "Desert regions", "Coastal plains"},
						Correct:     0,
						Explanation: "The Western Ghats are one of the worlds biodiversity hotspots with incredible species richness.",
					},
				},
			},
		},
		Challenges: []*Challenge{
			{
				ID:           "challenge-air-quality",
				Title:        "Urban Air Quality Challenge",
				Description:  "Monitor and analyze air pollution levels in your city.",
				Category:     "research",
				Difficulty:   DifficultyMedium,
				PointsReward: 250,
				CarbonImpact: 3.5,
				DurationDays: 3,
				BadgeReward:  ptr("Knowledge Seeker"),
				IsActive:     true,
			},
			{
				ID:           "challenge-waste-segregation",
				Title:        "Waste Segregation Photo Mission",
				Description:  "Take photos of proper waste segregation practices.",
				Category:     "waste",
				Difficulty:   DifficultyEasy,
				PointsReward: 150,
				CarbonImpact: 2,
				DurationDays: 1,
				BadgeReward:  ptr("Photo Expert"),
				IsActive:     true,
			},
			{
				ID:           "challenge-virtual-forest",
				Title:        "Virtual Forest Experience",
				Description:  "Plant virtual trees and learn about forest ecosystems.",
				Category:     "nature",
				Difficulty:   DifficultyHard,
				PointsReward: 300,
				CarbonImpact: 10,
				DurationDays: 7,
				IsActive:     true,
			},
		},
		Badges: []*Badge{
			{ID: "badge-first-steps", Name: "First Steps", Description: "Completed your first quest", Icon: "target",
				Category: "progress", Rarity: RarityCommon, Requirements: requirement("total_quests_completed >= 1"), IsActive: true},
			{ID: "badge-eco-warrior", Name: "Eco Warrior", Description: "Earned 1000+ eco points", Icon: "zap",
				Category: "points", Rarity: RarityRare, PointsRequired: ptr[int64](1000), IsActive: true},
			{ID: "badge-knowledge-seeker", Name: "Knowledge Seeker", Description: "Completed a research quest", Icon: "trophy",
				Category: "learning", Rarity: RarityRare, IsActive: true},
			{ID: "badge-community-leader", Name: "Community Leader", Description: "Helped 5 other students", Icon: "crown",
				Category: "community", Rarity: RarityEpic, IsActive: true},
			{ID: "badge-streak-master", Name: "Streak Master", Description: "30-day learning streak", Icon: "flame",
				Category: "streak", Rarity: RarityLegendary, Requirements: requirement("streak_days >= 30"), IsActive: true},
			{ID: "badge-photo-expert", Name: "Photo Expert", Description: "Submitted verified photos", Icon: "camera",
				Category: "waste", Rarity: RarityEpic, IsActive: true},
		},
	}
}
