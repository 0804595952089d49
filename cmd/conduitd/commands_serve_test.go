package main

import (
	"testing"
	"time"
)

func TestEverySpecFormatsDuration(t *testing.T) {
	if got, want := everySpec(5*time.Minute), "@every 5m0s"; got != want {
		t.Errorf("everySpec(5m) = %q, want %q", got, want)
	}
}

func TestEverySpecDefaultsNonPositive(t *testing.T) {
	if got, want := everySpec(0), "@every 1m0s"; got != want {
		t.Errorf("everySpec(0) = %q, want %q", got, want)
	}
	if got, want := everySpec(-time.Second), "@every 1m0s"; got != want {
		t.Errorf("everySpec(-1s) = %q, want %q", got, want)
	}
}
