package verdict

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/zhouzirui/kyc-shield/backend/internal/model/verification"
)

// Normalize extracts the JSON object from a model answer and coerces it into
// a Verdict. Each field that is missing, mistyped or out of range is replaced
// with its default independently; valid fields pass through unchanged. Text
// without a JSON object yields ErrMalformedResponse.
func Normalize(content string) (verification.Verdict, error) {
	raw, err := extractObject(content)
	if err != nil {
		return verification.Verdict{}, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return verification.Verdict{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	return verification.Verdict{
		IsReal:     parseIsReal(fields["isReal"]),
		Confidence: parseConfidence(fields["confidence"]),
		Issues:     parseIssues(fields["issues"]),
		Message:    parseMessage(fields["message"]),
	}, nil
}

// extractObject 截取第一个 '{' 到最后一个 '}' 之间的内容，兼容 ```json 代码块与前后缀说明。
func extractObject(content string) ([]byte, error) {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("%w: missing json object", ErrMalformedResponse)
	}
	return []byte(trimmed[start : end+1]), nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func parseIsReal(raw json.RawMessage) bool {
	if isNull(raw) {
		return false
	}
	var val bool
	if err := json.Unmarshal(raw, &val); err != nil {
		return false
	}
	return val
}

func parseConfidence(raw json.RawMessage) int {
	if isNull(raw) {
		return verification.DefaultConfidence
	}
	var val float64
	if err := json.Unmarshal(raw, &val); err != nil {
		return verification.DefaultConfidence
	}
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return verification.DefaultConfidence
	}
	rounded := math.Round(val)
	if rounded < 0 || rounded > 100 {
		return verification.DefaultConfidence
	}
	return int(rounded)
}

func parseIssues(raw json.RawMessage) []string {
	if isNull(raw) {
		return []string{verification.DefaultIssue}
	}
	var val []string
	if err := json.Unmarshal(raw, &val); err != nil {
		return []string{verification.DefaultIssue}
	}
	return val
}

func parseMessage(raw json.RawMessage) string {
	if isNull(raw) {
		return verification.DefaultMessage
	}
	var val string
	if err := json.Unmarshal(raw, &val); err != nil {
		return verification.DefaultMessage
	}
	val = strings.TrimSpace(val)
	if val == "" {
		return verification.DefaultMessage
	}
	return val
}
