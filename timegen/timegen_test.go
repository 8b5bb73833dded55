// Copyright © 2022 J. Salvador Arias <jsalarias@gmail.com>
// All rights reserved.
// Distributed under BSD2 license that can be found in the LICENSE file.

package timegen_test

import (
	"testing"

	"golang.org/x/exp/rand"

	"github.com/js-arias/tact/timegen"
)

func TestGenerateBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	times, err := timegen.Generate(rng, 1.2, 0.4, 10, 10, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(times) != 10 {
		t.Fatalf("Generate returned %d times, want 10", len(times))
	}
	for i, tm := range times {
		if tm <= 2 || tm > 10 {
			t.Errorf("times[%d] = %v, want in (2, 10]", i, tm)
		}
		if i > 0 && times[i] > times[i-1] {
			t.Errorf("times not sorted descending at index %d", i)
		}
	}
}

func TestGenerateZero(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	times, err := timegen.Generate(rng, 1, 0.5, 0, 10, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(times) != 0 {
		t.Errorf("Generate(k=0) = %v, want empty", times)
	}
}

func TestGenerateInvalidInterval(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	if _, err := timegen.Generate(rng, 1, 0.5, 3, 2, 2); err == nil {
		t.Errorf("expected error when told <= tyoung")
	}
}

func TestGeneratePureYule(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	times, err := timegen.Generate(rng, 1, 1, 5, 8, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, tm := range times {
		if tm <= 0 || tm > 8 {
			t.Errorf("pure-Yule time %v out of range (0, 8]", tm)
		}
	}
}
