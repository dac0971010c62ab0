package llm

import (
	"fmt"
	"strings"

	"post_worker/core/domain"
)

// Built-in personas used when the roles document has no matching section.
var (
	DefaultGeneratorRole = domain.Role{
		Role:      "Post Generator",
		Goal:      "Generate varied German posts that follow the provided constraints.",
		Backstory: "You are an expert social media writer for travel and passenger rights.",
	}
	DefaultReviewerRole = domain.Role{
		Role:      "Compliance Reviewer",
		Goal:      "Ensure posts comply with platform constraints and style rules.",
		Backstory: "You are a strict reviewer who fixes or removes non-compliant posts.",
	}
)

// Role names looked up in the roles document.
const (
	RoleGenerator = "generator"
	RoleReviewer  = "reviewer"
)

// PromptInput carries everything the generation prompt is built from.
type PromptInput struct {
	Brief         string
	CategoriesDoc string
	Required      []string
	Count         int
	Recent        []string
	Language      string
	// TravelHackCap is the per-batch limit stated in the diversity rules.
	TravelHackCap int
	// Strict adds a stronger output-format reminder, used after the model
	// returned unparsable output.
	Strict bool
}

func outputSchema(language string) string {
	styles := make([]string, len(domain.OpeningStyles))
	for i, s := range domain.OpeningStyles {
		styles[i] = string(s)
	}
	return fmt.Sprintf(`[
  {"category": "...", "opening_style": "%s", "text": "...", "language": "%s", "tags": ["..."]}
]`, strings.Join(styles, "|"), language)
}

func bulletLines(items []string, empty string) string {
	if len(items) == 0 {
		return empty
	}
	var sb strings.Builder
	for i, item := range items {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("- ")
		sb.WriteString(item)
	}
	return sb.String()
}

// GenerationPrompt builds the user prompt for the generator call.
func GenerationPrompt(in PromptInput) string {
	required := "(none)"
	if len(in.Required) > 0 {
		required = strings.Join(in.Required, ", ")
	}
	travelHackCap := in.TravelHackCap
	if travelHackCap < 1 {
		travelHackCap = 1
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "You write posts in language %q for the company described below.\n", in.Language)
	sb.WriteString("Output MUST be a JSON array only (no markdown, no explanation).\n\n")

	sb.WriteString("COMPANY CONTEXT (Markdown):\n---\n")
	sb.WriteString(strings.TrimSpace(in.Brief))
	sb.WriteString("\n---\n\n")

	sb.WriteString("POST CATEGORIES (Markdown):\n---\n")
	sb.WriteString(strings.TrimSpace(in.CategoriesDoc))
	sb.WriteString("\n---\n\n")

	fmt.Fprintf(&sb, "REQUIRED CATEGORIES:\n%s\n\n", required)

	sb.WriteString("DIVERSITY RULES:\n")
	fmt.Fprintf(&sb, "- Produce exactly %d posts with varied angles and different openings.\n", in.Count)
	sb.WriteString("- Generate EXACTLY one post per required category.\n")
	fmt.Fprintf(&sb, "- Max %d travel_hack per batch.\n", travelHackCap)
	sb.WriteString("- Avoid repetitive openings like \"Wussten Sie/Wissen Sie/Haben Sie gewusst\".\n")
	sb.WriteString("- Avoid \"Mythos/Fakt/Irrtum/Falsch\" openings and \"Checkliste/Schritte\" wording.\n")
	sb.WriteString("- Never repeat the same scenario (for example a missed connection) twice.\n")
	sb.WriteString("- Avoid document-keeping tips in travel_hack posts.\n")
	sb.WriteString("- Tag every post with exactly one topic tag.\n\n")

	sb.WriteString("PLATFORM CONSTRAINTS:\n")
	fmt.Fprintf(&sb, "- Max %d characters per post.\n", domain.MaxPostLength)
	sb.WriteString("- Max 2 hashtags per post.\n")
	sb.WriteString("- Emojis 0-2.\n\n")

	fmt.Fprintf(&sb, "RECENT POSTS (do not repeat):\n%s\n\n", bulletLines(in.Recent, "(none)"))

	sb.WriteString("Output format:\n")
	sb.WriteString(outputSchema(in.Language))
	if in.Strict {
		sb.WriteString("\n\nYour previous answer could not be parsed. Return ONLY the JSON array, starting with [ and ending with ].")
	}
	return sb.String()
}

// ReviewPrompt builds the reviewer call around the generator output.
func ReviewPrompt(generated string, count int, required []string, language string) string {
	var sb strings.Builder
	sb.WriteString("You are a strict compliance reviewer for short social posts.\n")
	sb.WriteString("Check the posts below and fix or remove any post that violates these rules:\n")
	fmt.Fprintf(&sb, "- Max %d characters\n", domain.MaxPostLength)
	sb.WriteString("- Max 2 hashtags\n")
	sb.WriteString("- No \"Wussten Sie/Wissen Sie/Haben Sie gewusst/Wusstest du\" openings\n")
	sb.WriteString("- No \"Mythos/Fakt/Irrtum/Falsch\" openings\n")
	sb.WriteString("- No legal advice or guarantees\n")
	sb.WriteString("- HARD BAN: delay hour thresholds (\"3 Stunden\", \"über 3\", \"ab 3\", \"3h\")\n")
	sb.WriteString("- HARD BAN: regulation citations and fixed compensation amounts\n\n")
	sb.WriteString("If a post violates the rules, rewrite it to comply while keeping the meaning.\n")
	sb.WriteString("If it cannot be fixed, remove it.\n\n")
	fmt.Fprintf(&sb, "REQUIRED CATEGORIES:\n%s\n\n", bulletLines(required, "(none)"))
	sb.WriteString("POSTS:\n---\n")
	sb.WriteString(strings.TrimSpace(generated))
	sb.WriteString("\n---\n\n")
	sb.WriteString("Output MUST be a JSON array only.\n")
	fmt.Fprintf(&sb, "Return up to %d posts in the SAME OBJECT FORMAT:\n", count)
	sb.WriteString(outputSchema(language))
	sb.WriteString("\nAlways preserve or set the correct category for each item.")
	return sb.String()
}
