package scenario

// BuiltIn returns predefined arcs selectable by name from the mission config.
func BuiltIn() map[string]Scenario {
	return map[string]Scenario{
		"convoy-probe": {
			Name:        "Convoy Probe",
			Description: "Vehicles approach the perimeter in pairs, then a larger column follows once the first pair is engaged.",
			Phases: []Phase{
				{
					Name:        "setup",
					Description: "Perimeter is quiet while the patrol settles into its circuit.",
					Triggers:    []Trigger{{Event: EventTimeElapsed, Value: 20, Next: "escalation"}},
				},
				{
					Name:        "escalation",
					Description: "Two cars probe the eastern edge.",
					Spawns:      []Spawn{{Class: "car", X: 25, Y: 5}, {Class: "car", X: 28, Y: -6}},
					Triggers:    []Trigger{{Event: EventThreatsExecuted, Value: 2, Next: "climax"}},
				},
				{
					Name:        "climax",
					Description: "A truck column pushes in from the north.",
					Spawns:      []Spawn{{Class: "truck", X: 0, Y: 30}, {Class: "truck", X: 8, Y: 32}, {Class: "motorcycle", X: -6, Y: 28}},
					Triggers:    []Trigger{{Event: EventTimeElapsed, Value: 120, Next: "resolution"}},
				},
				{
					Name:        "resolution",
					Description: "Remaining vehicles withdraw.",
				},
			},
		},
		"infiltration": {
			Name:        "Infiltration",
			Description: "People on foot slip through the patrol circle among civilian traffic.",
			Phases: []Phase{
				{
					Name:        "setup",
					Description: "Civilian buses pass through the area.",
					Spawns:      []Spawn{{Class: "bus", X: -20, Y: 0}},
					Triggers:    []Trigger{{Event: EventTimeElapsed, Value: 15, Next: "escalation"}},
				},
				{
					Name:        "escalation",
					Description: "Single intruders appear inside the circuit.",
					Spawns:      []Spawn{{Class: "person", X: 10, Y: 10}, {Class: "person", X: -12, Y: 8}},
					Triggers:    []Trigger{{Event: EventThreatsExecuted, Value: 1, Next: "climax"}},
				},
				{
					Name:        "climax",
					Description: "A group converges on the center.",
					Spawns:      []Spawn{{Class: "person", X: 4, Y: -15}, {Class: "person", X: 6, Y: -16}, {Class: "person", X: 2, Y: -18}},
					Triggers:    []Trigger{{Event: EventTimeElapsed, Value: 90, Next: "resolution"}},
				},
				{
					Name:        "resolution",
					Description: "The area is quiet again.",
				},
			},
		},
		"saturation": {
			Name:        "Saturation",
			Description: "More ground targets than strike units arrive at once to exercise the backlog.",
			Phases: []Phase{
				{
					Name:        "setup",
					Description: "Patrol establishes coverage.",
					Triggers:    []Trigger{{Event: EventTimeElapsed, Value: 10, Next: "climax"}},
				},
				{
					Name:        "climax",
					Description: "Mixed vehicles appear all around the perimeter.",
					Spawns: []Spawn{
						{Class: "car", X: 20, Y: 20}, {Class: "car", X: -20, Y: 20},
						{Class: "truck", X: 20, Y: -20}, {Class: "truck", X: -20, Y: -20},
						{Class: "motorcycle", X: 0, Y: 25},
					},
					Triggers: []Trigger{{Event: EventThreatsExecuted, Value: 5, Next: "resolution"}},
				},
				{
					Name:        "resolution",
					Description: "Backlog is clear.",
				},
			},
		},
	}
}
