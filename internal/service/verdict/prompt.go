package verdict

const systemPrompt = "You are a biometric security AI used in a KYC onboarding flow. You only ever answer with a single JSON object."

const analysisPrompt = `Analyze this still frame from a KYC video stream for liveness and deepfake indicators.

Look for:
1. Screen moire patterns (a photo of a screen is being shown).
2. 2D flatness or paper texture (a printed photo is being held up).
3. Deepfake artifacts such as blurring around face edges, unnatural eye reflections or warping.
4. Natural lighting and micro-expressions that indicate a real person.

Return a JSON object with exactly these fields:
{
  "isReal": boolean,
  "confidence": integer between 0 and 100,
  "issues": array of strings naming suspicious features, or ["None"] if clean,
  "message": short user-facing explanation, at most 10 words
}

Be strict. If the image is low quality, blurry or clearly a digital reproduction, set isReal to false.`
