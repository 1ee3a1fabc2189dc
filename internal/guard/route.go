package guard

import "strings"

// 路由描述目前只有自由文本可用，因此采用固定词表的子串分类器。
// 上游若提供结构化路由对象，应替换这里而保持匹配语义不变。
var (
	knownDexes     = []string{"uniswap", "1inch", "sushiswap"}
	knownProtocols = []string{"aave", "compound", "curve"}
)

// DexesInRoute 从路由描述中识别已知 DEX 名称。这是一个启发式分类器，
// 匹配结果是词表中出现在描述任意位置的名称集合。
func DexesInRoute(route string) []string {
	return matchVocabulary(route, knownDexes)
}

// ProtocolsInRoute 从路由描述中识别已知协议名称。
func ProtocolsInRoute(route string) []string {
	return matchVocabulary(route, knownProtocols)
}

func matchVocabulary(route string, vocabulary []string) []string {
	if strings.TrimSpace(route) == "" {
		return nil
	}
	lowered := strings.ToLower(route)
	var matched []string
	for _, name := range vocabulary {
		if strings.Contains(lowered, name) {
			matched = append(matched, name)
		}
	}
	return matched
}
