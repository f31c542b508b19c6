package dutycycle

import "time"

// Environment is the atmosphere a motor operates in, which changes how
// much heat it can shed and therefore its allowed duty cycle.
type Environment string

const (
	Air    Environment = "air"
	Vacuum Environment = "vacuum"
)

// Budget is the duty-cycle parameters selected for a given force and
// environment: the time a motor may run within Window before it must rest.
type Budget struct {
	TimeAllowedOn time.Duration
	Window        time.Duration
	// Unrestricted is true for load-curve rows marked with a negative
	// value in the Nanomotion table, meaning no duty cycle applies at
	// all: the governor never pauses the motor.
	Unrestricted bool
}

// noMotionWindow stands in for the original's float('inf') total_cycle_length
// when force exceeds the table or the environment is unrecognised: with
// TimeAllowedOn zero, mav reaches the budget on the very first tick and
// never drops back below it, so the axis is paused indefinitely.
const noMotionWindow = 365 * 24 * time.Hour

// NoMotionBudget is returned when force exceeds every row of the load
// table, or Environment is neither Air nor Vacuum.
var NoMotionBudget = Budget{TimeAllowedOn: 0, Window: noMotionWindow}

// loadRow is one line of the Nanomotion HR4 duty-cycle table: the maximum
// force this row covers, then (time-allowed-on, cycle-length) in seconds
// for air and for vacuum. A negative pair means unrestricted.
type loadRow struct {
	maxForce float64
	air      [2]float64
	vacuum   [2]float64
}

// loadTable is the HR4 motor duty-cycle table, simplified from Nanomotion's
// datasheet the way drivesystemdutycycle.DUTY_CYCLE_HR4_DICT does: motor
// top speed in this system (10 mm/s) is slow enough that velocity can be
// neglected and force alone selects the row.
var loadTable = []loadRow{
	{maxForce: 1.7, air: [2]float64{-1.0, -1.0}, vacuum: [2]float64{-1.0, -1.0}},
	{maxForce: 5.0, air: [2]float64{-1.0, -1.0}, vacuum: [2]float64{184.0, 418.2}},
	{maxForce: 7.6, air: [2]float64{-1.0, -1.0}, vacuum: [2]float64{107.0, 411.5}},
	{maxForce: 9.7, air: [2]float64{-1.0, -1.0}, vacuum: [2]float64{72.0, 423.5}},
	{maxForce: 11.5, air: [2]float64{87.0, 111.5}, vacuum: [2]float64{55.0, 423.1}},
	{maxForce: 13.7, air: [2]float64{62.0, 110.7}, vacuum: [2]float64{39.0, 433.3}},
	{maxForce: 14.5, air: [2]float64{56.0, 112.0}, vacuum: [2]float64{35.0, 437.5}},
}

// LookupBudget selects the load-table row whose maxForce is the first one
// at or above force, for the given environment. Force above the table's
// maximum, or an environment other than Air/Vacuum, selects NoMotionBudget.
func LookupBudget(force float64, env Environment) Budget {
	if env != Air && env != Vacuum {
		return NoMotionBudget
	}
	for _, row := range loadTable {
		if force > row.maxForce {
			continue
		}
		pair := row.air
		if env == Vacuum {
			pair = row.vacuum
		}
		if pair[0] < 0 || pair[1] < 0 {
			return Budget{Unrestricted: true}
		}
		return Budget{
			TimeAllowedOn: secondsToDuration(pair[0]),
			Window:        secondsToDuration(pair[1]),
		}
	}
	return NoMotionBudget
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
