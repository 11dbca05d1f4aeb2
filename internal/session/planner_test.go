package session

import (
	"testing"
)

func TestPlanSingleRequest(t *testing.T) {
	p := NewPlanner()

	steps := p.Plan("add a supplier in Rotterdam")
	if len(steps) != 1 {
		t.Fatalf("expected 1 step, got %d", len(steps))
	}
	if steps[0].Text != "add a supplier in Rotterdam" {
		t.Errorf("step text = %q", steps[0].Text)
	}
	if steps[0].Index != 0 {
		t.Errorf("step index = %d", steps[0].Index)
	}
}

func TestPlanSequenceCues(t *testing.T) {
	p := NewPlanner()

	cases := []struct {
		text string
		want []string
	}{
		{
			"add a supplier in Rotterdam and then connect it to the Hamburg warehouse",
			[]string{"add a supplier in Rotterdam", "connect it to the Hamburg warehouse"},
		},
		{
			"add a warehouse, then run a simulation",
			[]string{"add a warehouse", "run a simulation"},
		},
		{
			"remove the old node, after that show network status",
			[]string{"remove the old node", "show network status"},
		},
		{
			"add supplier A, and then add supplier B, and then connect them",
			[]string{"add supplier A", "add supplier B", "connect them"},
		},
	}

	for _, tc := range cases {
		steps := p.Plan(tc.text)
		if len(steps) != len(tc.want) {
			t.Errorf("Plan(%q): got %d steps, want %d", tc.text, len(steps), len(tc.want))
			continue
		}
		for i, w := range tc.want {
			if steps[i].Text != w {
				t.Errorf("Plan(%q) step %d = %q, want %q", tc.text, i, steps[i].Text, w)
			}
			if steps[i].Index != i {
				t.Errorf("Plan(%q) step %d has index %d", tc.text, i, steps[i].Index)
			}
		}
	}
}

func TestPlanNumberedList(t *testing.T) {
	p := NewPlanner()

	steps := p.Plan("1. add a supplier in Oslo 2. connect it to the main hub 3. run a simulation")
	if len(steps) != 3 {
		t.Fatalf("expected 3 steps, got %d: %v", len(steps), steps)
	}
	if steps[0].Text != "add a supplier in Oslo" {
		t.Errorf("step 0 = %q", steps[0].Text)
	}
	if steps[2].Text != "run a simulation" {
		t.Errorf("step 2 = %q", steps[2].Text)
	}
}

func TestPlanDoesNotGuess(t *testing.T) {
	p := NewPlanner()

	// "and" alone is not a sequencing cue; splitting on it would break
	// requests like "connect A and B".
	steps := p.Plan("connect the Oslo supplier and the Bergen warehouse")
	if len(steps) != 1 {
		t.Fatalf("expected 1 step, got %d: %v", len(steps), steps)
	}
}

func TestPlanEmptyMessage(t *testing.T) {
	p := NewPlanner()

	steps := p.Plan("   ")
	if len(steps) != 1 {
		t.Fatalf("expected 1 step for empty input, got %d", len(steps))
	}
	if steps[0].Text != "" {
		t.Errorf("step text = %q, want empty", steps[0].Text)
	}
}
