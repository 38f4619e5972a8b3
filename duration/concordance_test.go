package duration

import (
	"errors"
	"math"
	"testing"

	"github.com/minghao2016/Cyclops/likelihood"
)

func TestConcordance1(t *testing.T) {

	time := []float64{1, 2, 3, 4, 5, 6}
	status := []float64{1, 1, 1, 1, 1, 1}
	score := []float64{7, 6, 5, 4, 3, 2}

	c, err := NewConcordance(time, status, score)
	if err != nil {
		t.Fatal(err)
	}
	if v, err := c.Concordance(100); err != nil || v != 1 {
		t.Fatalf("concordance %v, %v", v, err)
	}

	// Reversed scores are perfectly discordant, equal scores give one
	// half.
	for i := range score {
		score[i] = -score[i]
	}
	c, _ = NewConcordance(time, status, score)
	if v, _ := c.Concordance(100); v != 0 {
		t.Fatalf("reversed concordance %v", v)
	}
	c, _ = NewConcordance(time, status, make([]float64, 6))
	if v, _ := c.Concordance(100); v != 0.5 {
		t.Fatalf("tied concordance %v", v)
	}
}

func TestConcordanceCensored(t *testing.T) {

	// Shuffled input with censoring.  Only pairs starting at an event
	// count, weighted by the censoring survival function.
	time := []float64{4, 1, 3, 2, 5}
	status := []float64{1, 1, 0, 1, 0}
	score := []float64{-1, 5, 1, 3, 0}

	c, err := NewConcordance(time, status, score)
	if err != nil {
		t.Fatal(err)
	}
	v, err := c.Concordance(100)
	if err != nil {
		t.Fatal(err)
	}

	// Censoring survival: drops at 3 to 2/3 and at 5 to 0.  Events at 1
	// and 2 have weight 1, the event at 4 has weight 9/4.
	// The pairs starting at times 1 and 2 are concordant, the pair
	// starting at 4 is not.
	want := (4 + 3) / (4 + 3 + 9.0/4)
	if math.Abs(v-want) > 1e-12 {
		t.Fatalf("concordance %v, want %v", v, want)
	}

	if _, err := c.Concordance(0.5); !errors.Is(err, likelihood.ErrInvalidData) {
		t.Fatalf("no pairs: %v", err)
	}
}
