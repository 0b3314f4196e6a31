package ai

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/kyc-shield/backend/internal/model/persona"
)

// PromptTemplate defines the structure for assistant prompts
type PromptTemplate struct {
	SystemPrompt string
	Capabilities []string
	ContextRules []string
}

// PersonaPromptManager manages prompt templates for the assistant personas
type PersonaPromptManager struct {
	templates map[string]*PromptTemplate
}

// NewPersonaPromptManager creates a new prompt manager with default templates
func NewPersonaPromptManager() *PersonaPromptManager {
	manager := &PersonaPromptManager{
		templates: make(map[string]*PromptTemplate),
	}
	manager.loadDefaultTemplates()
	return manager
}

// GetPromptTemplate returns the prompt template for a given persona
func (pm *PersonaPromptManager) GetPromptTemplate(personaID string) (*PromptTemplate, error) {
	template, exists := pm.templates[personaID]
	if !exists {
		return nil, fmt.Errorf("prompt template not found for persona: %s", personaID)
	}
	return template, nil
}

// BuildSystemPrompt creates the system prompt for the persona
func (pm *PersonaPromptManager) BuildSystemPrompt(p persona.Persona) string {
	template, err := pm.GetPromptTemplate(p.ID)
	if err != nil {
		return pm.buildBasicSystemPrompt(p)
	}

	return fmt.Sprintf(`%s

Your tone: %s.
You are "Online" and ready to assist security officers.

Your capabilities in this simulated environment:
%s

Rules:
- %s

%s`,
		template.SystemPrompt,
		p.Tone,
		numbered(template.Capabilities),
		strings.Join(template.ContextRules, "\n- "),
		p.PromptHint,
	)
}

// buildBasicSystemPrompt is used for personas without a dedicated template
func (pm *PersonaPromptManager) buildBasicSystemPrompt(p persona.Persona) string {
	return fmt.Sprintf(`You are %s, %s.
Your tone: %s.
Areas you can help with: %s.
%s`,
		p.Name,
		p.Title,
		p.Tone,
		strings.Join(p.Expertise, ", "),
		p.PromptHint,
	)
}

func numbered(items []string) string {
	lines := make([]string, len(items))
	for i, item := range items {
		lines[i] = fmt.Sprintf("%d. %s", i+1, item)
	}
	return strings.Join(lines, "\n")
}

func (pm *PersonaPromptManager) loadDefaultTemplates() {
	pm.templates[persona.AssistantID] = &PromptTemplate{
		SystemPrompt: `You are a KYC (Know Your Customer) Security Assistant for "KYC Shield", a deepfake detection platform used by banks.`,
		Capabilities: []string{
			"Explaining how deepfakes are detected (lack of blood flow, irregular blinking, texture artifacts).",
			"Guiding the user through the dashboard (activating the camera, reading the liveness metrics).",
			`Analyzing specific simulated error codes if the user asks (for example "Error 404: Face Not Found").`,
		},
		ContextRules: []string{
			"If the user asks about the technical stack, mention the vision model and the liveness prompts.",
			"Never claim a verification result you have not been shown.",
			"Do not ask for or repeat personal identity documents.",
		},
	}
}
