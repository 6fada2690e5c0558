package canon

import (
	"regexp"
	"sort"
	"strings"
)

var (
	hashtagRe = regexp.MustCompile(`#([A-Za-z0-9_]+)`)
	mentionRe = regexp.MustCompile(`@([A-Za-z0-9_]+)`)
	linkRe    = regexp.MustCompile(`https?://[^\s<>"']+`)

	whitespaceRe = regexp.MustCompile(`\s+`)
)

// cleanWhitespace collapses runs of whitespace and trims the ends.
func cleanWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// extractOrderedUnique runs re over text, lower-cases each full match
// (leading # or @ included), and returns them in first-seen order with
// duplicates removed.
func extractOrderedUnique(re *regexp.Regexp, text string) []string {
	matches := re.FindAllStringSubmatch(text, -1)
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		v := strings.ToLower(m[0])
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func extractHashtags(text string) []string { return extractOrderedUnique(hashtagRe, text) }
func extractMentions(text string) []string { return extractOrderedUnique(mentionRe, text) }
func extractLinks(text string) []string    { return extractOrderedUnique(linkRe, text) }

// kaspaKeywords is the fixed keyword list driving kaspaRelated detection
// and the topic bucket assignment below.
var kaspaKeywords = []string{"kaspa", "kas", "ghostdag", "blockdag", "kaspanet"}

var topicKeywords = map[string][]string{
	TopicMining:      {"mining", "miner", "hashrate", "asic", "pool"},
	TopicDevelopment: {"github", "rust", "node", "protocol", "rpc", "devnet", "testnet"},
	TopicTrading:     {"price", "exchange", "listing", "buy", "sell", "chart"},
	TopicTechnology:  {"algorithm", "consensus", "scalability", "tps", "layer"},
	TopicCommunity:   {"community", "discord", "telegram", "meetup", "ama"},
	TopicDefi:        {"defi", "liquidity", "swap", "yield", "dex"},
	TopicNFT:         {"nft", "krc721", "collectible", "mint"},
}

// classifyKaspa returns whether text mentions kaspa at all, and the set
// of topic buckets matched by simple keyword containment.
func classifyKaspa(text string) (related bool, topics []string) {
	lower := strings.ToLower(text)
	for _, kw := range kaspaKeywords {
		if strings.Contains(lower, kw) {
			related = true
			break
		}
	}
	if !related {
		return false, nil
	}
	for topic, keywords := range topicKeywords {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				topics = append(topics, topic)
				break
			}
		}
	}
	sort.Strings(topics)
	return related, topics
}
