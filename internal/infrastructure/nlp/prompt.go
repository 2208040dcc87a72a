package nlp

import (
	"fmt"
	"strings"

	"voiceinsight/internal/core/domain"
)

func buildExtractionPrompt(fullText string, types []domain.InsightType) string {
	names := make([]string, 0, len(types))
	for _, t := range types {
		names = append(names, string(t))
	}

	var b strings.Builder
	b.WriteString("You are a call analyst. Read the call transcript below and extract insights.\n")
	fmt.Fprintf(&b, "Allowed insight types: %s.\n", strings.Join(names, ", "))
	b.WriteString(`Respond with a single JSON object of the form:
{"insights": [{"insight_type": "...", "content": "...", "confidence": 0.0, "extra_data": {}}]}
Emit one summary, one overall sentiment, and any action items, topics, or keywords you find.
Content must be a short plain-text statement. Confidence is between 0 and 1.

Transcript:
`)
	b.WriteString(fullText)
	return b.String()
}
