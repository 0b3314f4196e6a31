package verification

import "time"

// Stage enumerates the steps of one verification attempt.
type Stage string

const (
	StageIdle      Stage = "idle"
	StageCapturing Stage = "capturing"
	StagePrompting Stage = "prompting"
	StageAnalyzing Stage = "analyzing"
	StageResult    Stage = "result"
)

// TextureStatus summarises whether the analysis flagged any surface issues.
type TextureStatus string

const (
	TextureClean     TextureStatus = "clean"
	TextureArtifacts TextureStatus = "artifacts"
)

// Metrics are the display figures derived from a verdict.
// BlinkRate is filler: a single still frame cannot measure blinking, so it is
// always flagged as simulated.
type Metrics struct {
	Confidence         int           `json:"confidence"`
	TextureStatus      TextureStatus `json:"textureStatus"`
	BlinkRate          int           `json:"blinkRate"`
	BlinkRateSimulated bool          `json:"blinkRateSimulated"`
}

// LogKind 对应前端控制台的配色。
type LogKind string

const (
	LogInfo    LogKind = "info"
	LogSuccess LogKind = "success"
	LogAlert   LogKind = "alert"
	LogSystem  LogKind = "system"
)

// LogEntry is one line of the session activity console.
type LogEntry struct {
	ID      string    `json:"id"`
	At      time.Time `json:"at"`
	Message string    `json:"message"`
	Kind    LogKind   `json:"kind"`
}

// Snapshot is the read model of a session handed to the presentation layer.
type Snapshot struct {
	Stage       Stage      `json:"stage"`
	Instruction string     `json:"instruction,omitempty"`
	FrameBytes  int        `json:"frameBytes,omitempty"`
	Verdict     *Verdict   `json:"verdict,omitempty"`
	Metrics     *Metrics   `json:"metrics,omitempty"`
	Headline    string     `json:"headline,omitempty"`
	ActionLabel string     `json:"actionLabel,omitempty"`
	Failure     string     `json:"failure,omitempty"`
	Logs        []LogEntry `json:"logs"`
}

// Prompt is one liveness instruction and how long it stays on screen.
type Prompt struct {
	Instruction string        `json:"instruction"`
	Dwell       time.Duration `json:"dwell"`
}
