package condition

import (
	"fmt"
	"strings"

	"autotrader/internal/broker"
	"autotrader/internal/plugin"
)

// Outcome 是逻辑门合成后的结论。
//
// Weight 只有在 weighted 逻辑且合成成功时才返回累计权重，
// 其余情况一律为 0。
type Outcome struct {
	Success bool
	Side    broker.PositionSide
	Weight  int
}

// Combine 按逻辑门合成一组条件结果。
//
// 期货标的上，未给出多空方向的成功结果按失败计；成功结果之间
// 方向不一致时，无论逻辑门如何都强制判定为失败。
func Combine(logic string, threshold int, product broker.Product, results []plugin.Result) (Outcome, error) {
	gate := strings.ToLower(strings.TrimSpace(logic))
	switch gate {
	case "all":
		gate = "and"
	case "any":
		gate = "or"
	}

	needThreshold := gate == "at_least" || gate == "at_most" || gate == "exactly" || gate == "weighted"
	if needThreshold && threshold <= 0 {
		return Outcome{}, fmt.Errorf("condition: 逻辑门 %q 需要正的阈值", gate)
	}

	successCount := 0
	weightSum := 0
	sides := make(map[broker.PositionSide]struct{})

	for _, r := range results {
		success := r.Success
		if success && product == broker.ProductFutures && !r.Side.Directional() {
			success = false
		}
		if !success {
			continue
		}
		successCount++
		weightSum += r.Weight
		if r.Side.Directional() {
			sides[r.Side] = struct{}{}
		}
	}

	if len(sides) > 1 {
		return Outcome{Success: false, Side: broker.PositionFlat}, nil
	}

	var success bool
	switch gate {
	case "and":
		success = successCount == len(results)
	case "or":
		success = successCount >= 1
	case "not":
		success = successCount == 0
	case "xor":
		success = successCount == 1
	case "at_least":
		success = successCount >= threshold
	case "at_most":
		success = successCount <= threshold
	case "exactly":
		success = successCount == threshold
	case "weighted":
		success = weightSum >= threshold
	default:
		return Outcome{}, fmt.Errorf("condition: 不支持的逻辑门 %q", logic)
	}

	outcome := Outcome{Success: success, Side: broker.PositionFlat}
	if success {
		for side := range sides {
			outcome.Side = side
		}
		if gate == "weighted" {
			outcome.Weight = weightSum
		}
	}
	return outcome, nil
}
