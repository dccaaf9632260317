package testutil

import "time"

// PtrString returns a pointer to the given string.
func PtrString(s string) *string {
	return &s
}

// PtrTime returns a pointer to the given time.
func PtrTime(t time.Time) *time.Time {
	return &t
}
