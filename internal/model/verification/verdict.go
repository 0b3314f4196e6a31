package verification

// Verdict is the structured outcome of one AI analysis call. It is never
// mutated after creation; use Clone when handing it out.
type Verdict struct {
	IsReal     bool     `json:"isReal"`
	Confidence int      `json:"confidence"`
	Issues     []string `json:"issues"`
	Message    string   `json:"message"`
}

// 服务端返回缺失或类型错误字段时使用的默认值。
const (
	DefaultConfidence = 0
	DefaultMessage    = "Verification Inconclusive"
	DefaultIssue      = "Analysis Error"
)

// FailureVerdict is synthesized when the analysis call times out or fails.
func FailureVerdict() Verdict {
	return Verdict{
		IsReal:     false,
		Confidence: 0,
		Issues:     []string{"System Timeout", "Network Error"},
		Message:    "Verification Failed",
	}
}

// Clone returns a deep copy.
func (v Verdict) Clone() Verdict {
	v.Issues = copyIssues(v.Issues)
	return v
}

// copyIssues copies issues. The result is never nil and encodes as [] when
// empty.
func copyIssues(issues []string) []string {
	out := make([]string, len(issues))
	copy(out, issues)
	return out
}

// Headline is the banner shown on the result screen.
func (v Verdict) Headline() string {
	if v.IsReal {
		return "KYC APPROVED"
	}
	return "DEEPFAKE DETECTED"
}

// ActionLabel is the label of the button that resets the session.
func (v Verdict) ActionLabel() string {
	if v.IsReal {
		return "Continue"
	}
	return "Retry Verification"
}
