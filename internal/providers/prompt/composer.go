// Package prompt builds the textual instructions sent to the generative
// image backend and extracts structure from analysis replies.
package prompt

import (
	"fmt"
	"regexp"
	"strings"

	"studio/internal/domain"
)

// backgroundClauseRE matches the mandatory trailing background directive of a
// clone base prompt. The backend treats the final clause as authoritative for
// background handling, so the match is anchored at the end of the string and
// never rewrites a clause appearing mid-prompt.
var backgroundClauseRE = regexp.MustCompile(`(?i)on a solid (?:black|white) background\.?\s*$`)

var (
	dominantColorRE = regexp.MustCompile(`#[0-9a-fA-F]{6}`)
	basePromptRE    = regexp.MustCompile(`(?is)PROMPT:\s*(.+)$`)
)

// ComposeClonePrompt merges user instructions into the extracted base prompt
// while keeping the background clause as the final text. With a recognized
// trailing clause the clause is excised, the remainder gets a terminating
// period if it lacks one, the instructions are appended behind the literal
// "Additional instructions: " marker, and the identical clause is re-appended.
// Without a recognized clause the instructions are appended at the very end.
func ComposeClonePrompt(basePrompt, additionalInstructions string) string {
	instructions := strings.TrimSpace(additionalInstructions)
	if instructions == "" {
		return basePrompt
	}

	loc := backgroundClauseRE.FindStringIndex(basePrompt)
	if loc == nil {
		return basePrompt + "\n\nAdditional instructions: " + instructions
	}

	clause := strings.TrimRight(basePrompt[loc[0]:loc[1]], " \t\n")
	remainder := strings.TrimRight(basePrompt[:loc[0]], " \t\n")
	if remainder != "" && !strings.HasSuffix(remainder, ".") {
		remainder += "."
	}
	return remainder + " Additional instructions: " + instructions + " " + clause
}

// ComposeMockupPrompt appends user instructions to a mockup prompt. Mockup
// prompts carry no trailing background directive, so plain concatenation is
// enough.
func ComposeMockupPrompt(basePrompt, additionalInstructions string) string {
	instructions := strings.TrimSpace(additionalInstructions)
	if instructions == "" {
		return basePrompt
	}
	return basePrompt + "\n\nADDITIONAL INSTRUCTIONS: " + instructions
}

// MockupScenePrompt builds the per-product base prompt for one mockup,
// embedding the dominant color learned during analysis.
func MockupScenePrompt(product domain.Product, dominantColor string) string {
	lines := []string{
		fmt.Sprintf("Create a photorealistic product mockup: %s.", product.Scene),
		"Apply the provided design image onto the product exactly as supplied, without warping, recoloring, or cropping it.",
	}
	if color := strings.TrimSpace(dominantColor); color != "" {
		lines = append(lines, fmt.Sprintf("Choose a product base color that complements the design's dominant color %s.", color))
	}
	lines = append(lines, "Render with natural lighting, sharp focus, and no added text or watermarks.")
	return strings.Join(lines, "\n")
}

// ExtractBasePrompt locates the reproduction prompt inside an analysis reply.
// The analysis instruction asks the model to emit it behind a "PROMPT:"
// marker; a reply without that marker has no usable fallback.
func ExtractBasePrompt(analysisText string) (string, error) {
	m := basePromptRE.FindStringSubmatch(analysisText)
	if m == nil {
		return "", domain.Errf(domain.ErrKindParseFailure, "analysis reply contains no PROMPT section")
	}
	extracted := strings.TrimSpace(m[1])
	if extracted == "" {
		return "", domain.Errf(domain.ErrKindParseFailure, "analysis reply PROMPT section is empty")
	}
	return extracted, nil
}

// ExtractDominantColor pulls the first hex color out of an analysis reply.
// A missing color is not an error; mockup prompts simply omit the color hint.
func ExtractDominantColor(analysisText string) string {
	return dominantColorRE.FindString(analysisText)
}
