// Package util holds the small formatting helpers shared by config and
// other packages that need to round-trip slice-typed option values.
package util

import (
	"strconv"
	"strings"
)

// IntSliceToCSV converts a slice of ints to CSV formatted data.
// e.g., []int{1,2,3,4,5} => "1,2,3,4,5"
func IntSliceToCSV(is []int) string {
	s := make([]string, len(is))
	for i, v := range is {
		s[i] = strconv.Itoa(v)
	}

	return strings.Join(s, ",")
}
