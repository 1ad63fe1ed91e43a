package stats

// LevelFunc maps a point total to a level. Implementations must be
// non-decreasing in points.
type LevelFunc func(points int64) int64

const DefaultLevelStep int64 = 250

// StepLevels grants one level per step points, starting at level 1.
func StepLevels(step int64) LevelFunc {
	if step <= 0 {
		step = DefaultLevelStep
	}
	return func(points int64) int64 {
		if points < 0 {
			points = 0
		}
		return 1 + points/step
	}
}
