package issues

import (
	"sort"
	"strings"
)

// Category 是对模型返回的自由文本问题的有界归类，可安全地用作指标标签。
type Category string

const (
	None     Category = "none"
	Screen   Category = "screen"
	Print    Category = "print"
	Deepfake Category = "deepfake"
	Lighting Category = "lighting"
	Quality  Category = "quality"
	System   Category = "system"
	Other    Category = "other"
)

var keywordBuckets = map[Category][]string{
	Screen: {
		"moire", "moiré", "screen", "display", "monitor", "pixel grid", "refresh", "replay", "phone screen",
	},
	Print: {
		"print", "paper", "photo of a photo", "2d", "flat", "flatness", "cutout", "mask", "printed",
	},
	Deepfake: {
		"deepfake", "warp", "warping", "blend", "blending", "edge blur", "blurring around", "artifact",
		"eye reflection", "unnatural", "synthetic", "gan", "face swap", "morph",
	},
	Lighting: {
		"lighting", "shadow", "glare", "overexposed", "underexposed", "backlit", "dark",
	},
	Quality: {
		"blurry", "blur", "low quality", "low resolution", "noise", "out of focus", "compression",
	},
	System: {
		"timeout", "network", "system", "connection", "analysis error",
	},
}

// bucketOrder breaks ties; earlier buckets are more specific.
var bucketOrder = []Category{System, Screen, Print, Deepfake, Lighting, Quality}

// Classify maps one issue string to a category. "None" and blank strings are
// treated as no issue.
func Classify(issue string) Category {
	normalized := strings.ToLower(strings.TrimSpace(issue))
	if normalized == "" || normalized == "none" || normalized == "n/a" {
		return None
	}

	best := Other
	bestScore := 0
	for _, category := range bucketOrder {
		score := 0
		for _, word := range keywordBuckets[category] {
			if strings.Contains(normalized, word) {
				score += len(word)
			}
		}
		if score > bestScore {
			best = category
			bestScore = score
		}
	}
	return best
}

// Summarize classifies every issue and returns the distinct categories in a
// stable order, excluding None.
func Summarize(list []string) []Category {
	seen := make(map[Category]struct{})
	for _, issue := range list {
		c := Classify(issue)
		if c == None {
			continue
		}
		seen[c] = struct{}{}
	}

	out := make([]Category, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
