package condition

import (
	"fmt"

	mapstructure "github.com/go-viper/mapstructure/v2"

	"autotrader/internal/plugin"
)

// Node 是条件树的节点：叶子节点引用一个条件插件，
// 分组节点携带逻辑门并递归包含子节点。
//
// Instance 非空的叶子节点直接使用给定实例，跳过注册表解析，
// 供运行期以编程方式拼装条件树使用。配置解析不会产生此类节点。
type Node struct {
	PluginID string
	Params   map[string]interface{}
	Weight   int
	Instance plugin.Condition

	Logic     string
	Threshold int
	Children  []Node
}

// IsGroup 返回节点是否为分组节点。
func (n Node) IsGroup() bool {
	return n.Logic != ""
}

type nodeSpec struct {
	ID         string                   `mapstructure:"id"`
	Params     map[string]interface{}   `mapstructure:"params"`
	Weight     int                      `mapstructure:"weight"`
	Logic      string                   `mapstructure:"logic"`
	Threshold  int                      `mapstructure:"threshold"`
	Conditions []map[string]interface{} `mapstructure:"conditions"`
}

// ParseNodes 把配置层的原始节点列表解析成条件树。
func ParseNodes(raw []map[string]interface{}) ([]Node, error) {
	nodes := make([]Node, 0, len(raw))
	for i, item := range raw {
		node, err := parseNode(item)
		if err != nil {
			return nil, fmt.Errorf("condition: 节点[%d]解析失败: %w", i, err)
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

func parseNode(raw map[string]interface{}) (Node, error) {
	var spec nodeSpec
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  &spec,
		TagName: "mapstructure",
	})
	if err != nil {
		return Node{}, fmt.Errorf("构造解码器失败: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return Node{}, fmt.Errorf("解码节点失败: %w", err)
	}

	if spec.Logic != "" {
		if spec.ID != "" {
			return Node{}, fmt.Errorf("分组节点不能同时携带插件标识 %q", spec.ID)
		}
		if len(spec.Conditions) == 0 {
			return Node{}, fmt.Errorf("分组节点 %q 缺少子节点", spec.Logic)
		}
		children, err := ParseNodes(spec.Conditions)
		if err != nil {
			return Node{}, err
		}
		return Node{
			Logic:     spec.Logic,
			Threshold: spec.Threshold,
			Children:  children,
		}, nil
	}

	if spec.ID == "" {
		return Node{}, fmt.Errorf("叶子节点缺少插件标识")
	}
	if spec.Weight < 0 {
		return Node{}, fmt.Errorf("叶子节点 %q 的权重不能为负", spec.ID)
	}
	return Node{
		PluginID: spec.ID,
		Params:   spec.Params,
		Weight:   spec.Weight,
	}, nil
}
