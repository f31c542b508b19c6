package poller

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fatih/color"
)

// ConsoleSubscriber returns a Subscriber that prints a bracketed row of
// positions, one column per axis in ascending axis number, marking
// disabled/stale axes with a trailing "*" in dimmed colour. It reproduces
// DriveSystemThread.run's console print loop, swapping the raw f-string
// formatting for fatih/color so a stale column is visually distinct instead
// of only textually marked.
func ConsoleSubscriber() Subscriber {
	stale := color.New(color.FgHiBlack)
	fresh := color.New(color.FgGreen)

	return func(snap Snapshot) {
		nums := make([]int, 0, len(snap.Positions))
		for n := range snap.Positions {
			nums = append(nums, n)
		}
		sort.Ints(nums)

		cols := make([]string, 0, len(nums))
		for _, n := range nums {
			s := snap.Positions[n]
			if s.Fresh {
				cols = append(cols, fresh.Sprintf("%7d", s.Position))
			} else {
				cols = append(cols, stale.Sprintf("%6s*", "none"))
			}
		}
		fmt.Println("[", strings.Join(cols, ","), "]")
	}
}
