package assistant

// Stage tells the model which part of the questionnaire it is answering.
type Stage string

const (
	StageFollowUp Stage = "follow_up_question"
	StageFinal    Stage = "final_recommendation"
)

// DefaultSystemPrompt is the concierge persona sent with every request.
const DefaultSystemPrompt = "You are a calm and emotionally intelligent travel coach specializing in mindfulness-based trip recommendations.\n\n" +
	"Goals:\n" +
	"- Within two short questions, identify:\n" +
	"  1. The user's current emotional or stress state (you may receive hints from sensors).\n" +
	"  2. Their desired getaway vibe: beach, forest retreat, cozy city recharge, mountains, etc.\n\n" +
	"Style:\n" +
	"- Keep responses concise and conversational (max two sentences).\n" +
	"- Ask only what you need to confidently recommend a destination.\n" +
	"- Stay supportive, mindful, and practical, without repeating yourself."

// DefaultFallbackQuestion is asked when no follow-up question can be
// generated.
const DefaultFallbackQuestion = "Could you share one detail that would make that trip feel just right?"

// DefaultFallbackRecommendation is spoken when the final recommendation
// cannot be generated.
const DefaultFallbackRecommendation = "Thank you for sharing. A quiet few days somewhere close to nature, with a short breathing practice each morning, could be a gentle place to start."

var stageInstructions = map[Stage]string{
	StageFollowUp: "You already greeted the user. Ask ONE follow-up question that explores their feelings or desired vibe. Keep it under 25 words.",
	StageFinal:    "The user has answered the questions. Summarize the key feelings and offer a specific travel direction plus a short wellbeing practice suggestion. Keep it under 60 words.",
}

// followUpRequest is sent as the user turn when a follow-up question is
// generated.
const followUpRequest = "Provide exactly one short follow-up question (max 25 words) based on the user's most recent response. Answer with the question only."

// Instruction returns the instruction text for s, or "" for an unknown stage.
func (s Stage) Instruction() string { return stageInstructions[s] }

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	_, ok := stageInstructions[s]
	return ok
}

// StageSequence returns the stages for a conversation of n assistant turns:
// follow-up questions followed by one final recommendation.
func StageSequence(n int) []Stage {
	if n <= 1 {
		return []Stage{StageFinal}
	}
	out := make([]Stage, 0, n)
	for range n - 1 {
		out = append(out, StageFollowUp)
	}
	return append(out, StageFinal)
}
