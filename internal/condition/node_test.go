package condition

import (
	"testing"
)

func TestParseNodes_LeafAndGroup(t *testing.T) {
	raw := []map[string]interface{}{
		{"id": "sma_cross", "params": map[string]interface{}{"fast": 5}, "weight": 3},
		{
			"logic":     "at_least",
			"threshold": 1,
			"conditions": []map[string]interface{}{
				{"id": "rsi_band"},
			},
		},
	}

	nodes, err := ParseNodes(raw)
	if err != nil {
		t.Fatalf("ParseNodes returned error: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(nodes))
	}

	leaf := nodes[0]
	if leaf.IsGroup() {
		t.Errorf("expected first node to be a leaf")
	}
	if leaf.PluginID != "sma_cross" || leaf.Weight != 3 {
		t.Errorf("unexpected leaf: %+v", leaf)
	}

	group := nodes[1]
	if !group.IsGroup() {
		t.Fatalf("expected second node to be a group")
	}
	if group.Logic != "at_least" || group.Threshold != 1 {
		t.Errorf("unexpected group gate: %+v", group)
	}
	if len(group.Children) != 1 || group.Children[0].PluginID != "rsi_band" {
		t.Errorf("unexpected group children: %+v", group.Children)
	}
}

func TestParseNodes_RejectsInvalidNodes(t *testing.T) {
	cases := []struct {
		name string
		raw  map[string]interface{}
	}{
		{"missing plugin id", map[string]interface{}{"weight": 1}},
		{"group without children", map[string]interface{}{"logic": "or"}},
		{"group with plugin id", map[string]interface{}{
			"logic": "or",
			"id":    "sma_cross",
			"conditions": []map[string]interface{}{
				{"id": "rsi_band"},
			},
		}},
		{"negative weight", map[string]interface{}{"id": "sma_cross", "weight": -1}},
	}

	for _, tc := range cases {
		if _, err := ParseNodes([]map[string]interface{}{tc.raw}); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}
