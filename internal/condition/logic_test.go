package condition

import (
	"testing"

	"autotrader/internal/broker"
	"autotrader/internal/plugin"
)

func TestCombine_AndRequiresAllSuccesses(t *testing.T) {
	results := []plugin.Result{
		{Success: true},
		{Success: false},
	}

	outcome, err := Combine("and", 0, broker.ProductStock, results)
	if err != nil {
		t.Fatalf("Combine returned error: %v", err)
	}
	if outcome.Success {
		t.Errorf("expected failure when one condition fails under and")
	}

	results[1].Success = true
	outcome, err = Combine("and", 0, broker.ProductStock, results)
	if err != nil {
		t.Fatalf("Combine returned error: %v", err)
	}
	if !outcome.Success {
		t.Errorf("expected success when all conditions succeed under and")
	}
}

func TestCombine_EmptyResultsUnderAndSucceeds(t *testing.T) {
	outcome, err := Combine("and", 0, broker.ProductStock, nil)
	if err != nil {
		t.Fatalf("Combine returned error: %v", err)
	}
	if !outcome.Success {
		t.Errorf("expected vacuous success for empty results under and")
	}
}

func TestCombine_AliasesMatchCanonicalGates(t *testing.T) {
	results := []plugin.Result{{Success: true}, {Success: false}}

	anyOutcome, err := Combine("any", 0, broker.ProductStock, results)
	if err != nil {
		t.Fatalf("Combine(any) returned error: %v", err)
	}
	orOutcome, err := Combine("or", 0, broker.ProductStock, results)
	if err != nil {
		t.Fatalf("Combine(or) returned error: %v", err)
	}
	if anyOutcome.Success != orOutcome.Success {
		t.Errorf("any and or disagree: %v vs %v", anyOutcome.Success, orOutcome.Success)
	}
}

func TestCombine_FuturesRequiresDirection(t *testing.T) {
	results := []plugin.Result{{Success: true, Side: broker.PositionFlat}}

	outcome, err := Combine("or", 0, broker.ProductFutures, results)
	if err != nil {
		t.Fatalf("Combine returned error: %v", err)
	}
	if outcome.Success {
		t.Errorf("expected directionless success to count as failure on futures")
	}

	results[0].Side = broker.PositionLong
	outcome, err = Combine("or", 0, broker.ProductFutures, results)
	if err != nil {
		t.Fatalf("Combine returned error: %v", err)
	}
	if !outcome.Success {
		t.Errorf("expected directional success to pass on futures")
	}
	if outcome.Side != broker.PositionLong {
		t.Errorf("expected aligned side long, got %s", outcome.Side)
	}
}

func TestCombine_ConflictingDirectionsForceFailure(t *testing.T) {
	results := []plugin.Result{
		{Success: true, Side: broker.PositionLong, Weight: 3},
		{Success: true, Side: broker.PositionShort, Weight: 3},
	}

	for _, gate := range []string{"and", "or", "at_least", "weighted"} {
		outcome, err := Combine(gate, 1, broker.ProductFutures, results)
		if err != nil {
			t.Fatalf("Combine(%s) returned error: %v", gate, err)
		}
		if outcome.Success {
			t.Errorf("gate %s: expected conflicting directions to force failure", gate)
		}
		if outcome.Weight != 0 {
			t.Errorf("gate %s: expected zero weight on conflict, got %d", gate, outcome.Weight)
		}
	}
}

func TestCombine_ThresholdGates(t *testing.T) {
	results := []plugin.Result{
		{Success: true, Side: broker.PositionLong},
		{Success: true, Side: broker.PositionLong},
		{Success: false},
	}

	cases := []struct {
		gate      string
		threshold int
		want      bool
	}{
		{"at_least", 2, true},
		{"at_least", 3, false},
		{"at_most", 2, true},
		{"at_most", 1, false},
		{"exactly", 2, true},
		{"exactly", 1, false},
	}
	for _, tc := range cases {
		outcome, err := Combine(tc.gate, tc.threshold, broker.ProductFutures, results)
		if err != nil {
			t.Fatalf("Combine(%s,%d) returned error: %v", tc.gate, tc.threshold, err)
		}
		if outcome.Success != tc.want {
			t.Errorf("Combine(%s,%d) = %v, want %v", tc.gate, tc.threshold, outcome.Success, tc.want)
		}
	}
}

func TestCombine_ThresholdGatesRejectMissingThreshold(t *testing.T) {
	for _, gate := range []string{"at_least", "at_most", "exactly", "weighted"} {
		if _, err := Combine(gate, 0, broker.ProductStock, nil); err == nil {
			t.Errorf("gate %s: expected error for missing threshold", gate)
		}
	}
}

func TestCombine_WeightedReturnsSumOnlyOnSuccess(t *testing.T) {
	results := []plugin.Result{
		{Success: true, Weight: 3},
		{Success: true, Weight: 4},
		{Success: false, Weight: 10},
	}

	outcome, err := Combine("weighted", 5, broker.ProductStock, results)
	if err != nil {
		t.Fatalf("Combine returned error: %v", err)
	}
	if !outcome.Success {
		t.Fatalf("expected weighted sum 7 to pass threshold 5")
	}
	if outcome.Weight != 7 {
		t.Errorf("expected weight 7, got %d", outcome.Weight)
	}

	outcome, err = Combine("weighted", 8, broker.ProductStock, results)
	if err != nil {
		t.Fatalf("Combine returned error: %v", err)
	}
	if outcome.Success {
		t.Errorf("expected weighted sum 7 to fail threshold 8")
	}
	if outcome.Weight != 0 {
		t.Errorf("expected zero weight on failure, got %d", outcome.Weight)
	}
}

func TestCombine_NonWeightedGatesReturnZeroWeight(t *testing.T) {
	results := []plugin.Result{{Success: true, Weight: 5}}

	outcome, err := Combine("or", 0, broker.ProductStock, results)
	if err != nil {
		t.Fatalf("Combine returned error: %v", err)
	}
	if !outcome.Success {
		t.Fatalf("expected success")
	}
	if outcome.Weight != 0 {
		t.Errorf("expected zero weight outside weighted gate, got %d", outcome.Weight)
	}
}

func TestCombine_XorAndNot(t *testing.T) {
	one := []plugin.Result{{Success: true, Side: broker.PositionLong}, {Success: false}}
	two := []plugin.Result{
		{Success: true, Side: broker.PositionLong},
		{Success: true, Side: broker.PositionLong},
	}

	outcome, err := Combine("xor", 0, broker.ProductFutures, one)
	if err != nil {
		t.Fatalf("Combine returned error: %v", err)
	}
	if !outcome.Success {
		t.Errorf("expected xor to pass with exactly one success")
	}

	outcome, err = Combine("xor", 0, broker.ProductFutures, two)
	if err != nil {
		t.Fatalf("Combine returned error: %v", err)
	}
	if outcome.Success {
		t.Errorf("expected xor to fail with two successes")
	}

	outcome, err = Combine("not", 0, broker.ProductStock, []plugin.Result{{Success: false}})
	if err != nil {
		t.Fatalf("Combine returned error: %v", err)
	}
	if !outcome.Success {
		t.Errorf("expected not to pass with zero successes")
	}
}

func TestCombine_UnknownGateFails(t *testing.T) {
	if _, err := Combine("sometimes", 0, broker.ProductStock, nil); err == nil {
		t.Errorf("expected error for unknown gate")
	}
}

func TestCombine_OutcomeIndependentOfResultOrder(t *testing.T) {
	results := []plugin.Result{
		{Success: true, Weight: 3, Side: broker.PositionLong},
		{Success: false, Weight: 2},
		{Success: true, Weight: 4, Side: broker.PositionLong},
	}
	permutations := [][]int{
		{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0},
	}

	gates := []struct {
		logic     string
		threshold int
		product   broker.Product
	}{
		{"and", 0, broker.ProductStock},
		{"or", 0, broker.ProductStock},
		{"at_least", 2, broker.ProductStock},
		{"weighted", 5, broker.ProductStock},
		{"at_least", 2, broker.ProductFutures},
	}

	for _, gate := range gates {
		baseline, err := Combine(gate.logic, gate.threshold, gate.product, results)
		if err != nil {
			t.Fatalf("Combine(%s) returned error: %v", gate.logic, err)
		}

		for _, order := range permutations {
			permuted := make([]plugin.Result, len(results))
			for i, idx := range order {
				permuted[i] = results[idx]
			}

			outcome, err := Combine(gate.logic, gate.threshold, gate.product, permuted)
			if err != nil {
				t.Fatalf("Combine(%s) on permutation %v returned error: %v", gate.logic, order, err)
			}
			if outcome != baseline {
				t.Errorf("Combine(%s) on permutation %v = %+v, want %+v", gate.logic, order, outcome, baseline)
			}
		}
	}
}
