package main

const (
	// MaxCommand is the largest motor command magnitude
	MaxCommand = 127
)

// speedCurve reshapes |input| into |output|. Inputs below 11 are treated as
// stick noise; everything above is lifted to the smallest duty cycle that
// still moves a loaded motor.
var speedCurve = [MaxCommand + 1]int{
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 21, 21, 21, 22, 22, 22, 23, 24, 24,
	25, 25, 25, 25, 26, 27, 27, 28, 28, 28,
	28, 29, 30, 30, 30, 31, 31, 32, 32, 32,
	33, 33, 34, 34, 35, 35, 35, 36, 36, 37,
	37, 37, 37, 38, 38, 39, 39, 39, 40, 40,
	41, 41, 42, 42, 43, 44, 44, 45, 45, 46,
	46, 47, 47, 48, 48, 49, 50, 50, 51, 52,
	52, 53, 54, 55, 56, 57, 57, 58, 59, 60,
	61, 62, 63, 64, 65, 66, 67, 67, 68, 70,
	71, 72, 72, 73, 74, 76, 77, 78, 79, 79,
	80, 81, 83, 84, 84, 86, 86, 87, 87, 88,
	88, 89, 89, 90, 90, 127, 127, 127,
}

// MapSpeed clamps raw to the motor range and maps it through the speed curve,
// keeping the sign. Every command headed for a motor passes through here.
func MapSpeed(raw int) int {
	raw = clampCommand(raw)
	switch {
	case raw > 0:
		return speedCurve[raw]
	case raw < 0:
		return -speedCurve[-raw]
	default:
		return 0
	}
}

// clampCommand limits a command to [-MaxCommand, MaxCommand]
func clampCommand(cmd int) int {
	if cmd > MaxCommand {
		return MaxCommand
	}
	if cmd < -MaxCommand {
		return -MaxCommand
	}
	return cmd
}

// applyDeadband zeroes stick readings whose magnitude is at or below limit
func applyDeadband(value, limit int) int {
	if limit > 0 && value <= limit && value >= -limit {
		return 0
	}
	return value
}
