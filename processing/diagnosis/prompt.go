package diagnosis

// Prompt asks for the five report sections the report package knows how to
// split. The first section must be a bare name.
const Prompt = "Generate a professional plant health report with these exact sections:\n" +
	"1. Disease Identification (only name)\n" +
	"2. Key Symptoms (3-5 concise bullet points describing observable traits)\n" +
	"3. Immediate Treatment Recommendations (3-5 practical steps in bullet points prioritizing safety and effectiveness)\n" +
	"4. Prevention Methods (3-5 bullet points for long-term plant health)\n" +
	"5. Additional Notes (3-5 bullet points for relevant observations or follow-up advice and suggest most likely disease if uncertain)\n\n" +
	"Format cleanly without asterisks or markdown. Use proper spacing between sections. " +
	"Use professional language for farmers or horticulturists."

// checkPrompt is the startup credential check.
const checkPrompt = "Test connection"
