package driven

// PromptStore provides access to LLM prompt templates.
// Implementations may load prompts from files or embed them in the binary.
type PromptStore interface {
	// Load returns the prompt template for the given name.
	// If the prompt is not found, implementations should return a sensible default
	// or an error, depending on whether the prompt is required.
	Load(name string) (string, error)

	// Reload clears any cached prompts, forcing fresh loads on next access.
	// This is useful when prompts may have been edited on disk.
	Reload()
}

// Well-known prompt names used throughout the application.
// These constants define the contract between prompt consumers and providers.
const (
	// PromptGroup asks the oracle to group numbered records by meaning.
	// The template expects a %s placeholder for the numbered record list.
	PromptGroup = "group"

	// PromptMerge asks the oracle to merge one group into a single record.
	// The template expects a %s placeholder for the group's records.
	PromptMerge = "merge"

	// PromptExtract asks the oracle to extract question/answer pairs.
	// The template expects a %s placeholder for the transcript text.
	PromptExtract = "extract"
)

// AllPromptNames returns every prompt the application loads.
func AllPromptNames() []string {
	return []string{PromptGroup, PromptMerge, PromptExtract}
}

// DefaultPrompts contains the built-in prompt templates. Prompt stores use
// them as initial file content and services fall back to them when no
// store is configured.
//
//nolint:lll // Prompt content is intentionally long and should not be wrapped.
var DefaultPrompts = map[string]string{
	PromptGroup: `You are a knowledge base editor. Decide which of the numbered question/answer records below say the same thing and can be merged.

Mergeable records:
- ask the same underlying question, even if phrased differently
- give the same answer, possibly with more or less detail

Not mergeable:
- the questions have different intents
- the answers differ in facts such as numbers, conditions or scenarios

Output one line per group of mergeable records, using the record numbers:
GROUP: 0,1
GROUP: 4,7,9

Records that have no duplicate must not be listed. Output nothing else. If no records can be merged, output nothing.

Records:
%s`,

	PromptMerge: `You are a knowledge base editor. Merge the similar question/answer records below into one clear, complete record.

Rules:
- Choose the clearest wording of the question.
- Keep every useful fact from the answers and remove repetition.
- When answers conflict, prefer the more precise or more detailed one.
- Do not invent information.

Reply with JSON only, in this form:
{"merged_qa": {"question": "...", "answer": "...", "category": "...", "keywords": ["..."], "confidence": 0.9, "merge_notes": "..."}}

Records:
%s`,

	PromptExtract: `Extract question/answer pairs that are worth keeping in a product knowledge base from the transcript below.

Rules:
- Only extract questions that a customer could plausibly ask again.
- Answers must be complete and self-contained.
- If the transcript contains nothing worth keeping, output nothing.

Output format, one pair after another:
Q: <question>
A: <answer>

Transcript:
%s`,
}
