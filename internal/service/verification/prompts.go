package verification

import (
	"time"

	model "github.com/zhouzirui/kyc-shield/backend/internal/model/verification"
)

const (
	PromptDwell     = 2 * time.Second
	HoldDwell       = time.Second
	AnalysisTimeout = 20 * time.Second
	HoldInstruction = "Hold Still..."
)

var livenessInstructions = []string{
	"Look Straight",
	"Turn Head Left",
	"Turn Head Right",
	"Blink Your Eyes",
	"Smile",
}

// LivenessSequence returns the fixed prompt order: five instructions of
// PromptDwell each, then the hold of HoldDwell.
func LivenessSequence() []model.Prompt {
	seq := make([]model.Prompt, 0, len(livenessInstructions)+1)
	for _, instruction := range livenessInstructions {
		seq = append(seq, model.Prompt{Instruction: instruction, Dwell: PromptDwell})
	}
	return append(seq, model.Prompt{Instruction: HoldInstruction, Dwell: HoldDwell})
}
