package judge

import (
	"fmt"
	"strings"

	"voice-conformity-go/internal/types"
)

// Prompt is what every provider receives.
type Prompt struct {
	System          string
	User            string
	Identity        string
	CriticalContext bool
}

const systemPrompt = `You are a quality evaluator for a sales-verification call center.
Rules: 1) judge only against the criteria and examples given; 2) do not interpret, if the transcript does not clearly match, answer 0; 3) be consistent, the same text must always get the same answer; 4) answer with a single valid JSON object and nothing else.`

// Rubric is one criterion as shown to the model.
type Rubric struct {
	Key      string
	Question string
	Meets    string
	Fails    string
}

// Builder renders prompts for a brand. The rubric text is data; swapping it
// does not change how answers are parsed or classified.
type Builder struct {
	Brand  string
	Rubric [types.CriteriaCount]Rubric
}

func NewBuilder(brand string) *Builder {
	if brand == "" {
		brand = "Maquisistema"
	}
	return &Builder{Brand: brand, Rubric: defaultRubric(brand)}
}

func defaultRubric(brand string) [types.CriteriaCount]Rubric {
	return [types.CriteriaCount]Rubric{
		{
			Key:      "criterion_1",
			Question: fmt.Sprintf("Does the agent explicitly say their own name AND the exact word %q?", brand),
			Meets:    fmt.Sprintf(`"Soy Juan de %[1]s", "Le habla Carlos de %[1]s"`, brand),
			Fails:    "misspelled or different company names, or no agent name",
		},
		{
			Key:      "criterion_2",
			Question: "Does the agent verify specific details of the customer's contract?",
			Meets:    "confirms amounts, installments, plan, deposits or modality",
			Fails:    "general conversation without checking contract data",
		},
		{
			Key:      "criterion_3",
			Question: "Does the agent explain that nobody can guarantee the award and the customer must WIN the draw or the auction?",
			Meets:    `"nadie le asegura", "debe ganar el sorteo", "debe ganar el remate", "no hay garantia de adjudicacion"`,
			Fails:    "suggests a guaranteed or assured award",
		},
		{
			Key:      "criterion_4",
			Question: "Does the agent ask whether the customer has doubts or understood?",
			Meets:    `"alguna duda?", "le queda claro?"`,
			Fails:    "never checks comprehension",
		},
		{
			Key:      "criterion_5",
			Question: "Does the agent state exactly what the customer must do now or next?",
			Meets:    `"debe pagar del 1 al 17", "vaya a oficinas", "llame manana"`,
			Fails:    "only abstract explanations of modalities",
		},
	}
}

// Build renders the prompt for one transcript. critical marks a prior
// validation outcome that reflects a misconception about guaranteed award.
func (b *Builder) Build(transcript string, item types.WorkItem, vc types.ValidationContext, critical bool) Prompt {
	var sb strings.Builder

	prior := vc.PriorOutcomeType
	if vc.IsNone() {
		prior = types.NoPriorOutcome
	}
	callDate := "unknown"
	if !item.CallDate.IsZero() {
		callDate = item.CallDate.Format("2006-01-02")
	}

	fmt.Fprintf(&sb, "Evaluate this %s verification call.\n\n", b.Brand)
	if critical {
		fmt.Fprintf(&sb, "PRIORITY CONTEXT: the customer's previous validation was %q, a misunderstanding about award. "+
			"The agent must explicitly correct it: there is no immediate or guaranteed award and no award for a fixed number of installments; "+
			"award depends on winning the draw or the auction.\n\n", prior)
	} else if !vc.IsNone() {
		fmt.Fprintf(&sb, "Informational context: previous validation recorded as %q. Evaluate with the standard criteria.\n\n", prior)
	}

	fmt.Fprintf(&sb, "CUSTOMER\n- Identity: %s\n- Call date: %s\n- Previous validation: %s\n\n", item.Identity, callDate, prior)

	sb.WriteString("CRITERIA (answer 1 if met, 0 if not)\n")
	for i, r := range b.Rubric {
		fmt.Fprintf(&sb, "%d. %s: %s\n   Meets: %s\n   Fails: %s\n", i+1, r.Key, r.Question, r.Meets, r.Fails)
	}

	sb.WriteString("\nRESPONSE FORMAT\n{\n")
	for _, r := range b.Rubric {
		fmt.Fprintf(&sb, "  %q: 0 or 1,\n", r.Key)
	}
	sb.WriteString("  \"rationale\": \"short summary mentioning the previous validation, strengths and gaps\"\n}\n\n")
	sb.WriteString("TRANSCRIPT\n")
	sb.WriteString(Clean(transcript))

	return Prompt{
		System:          systemPrompt,
		User:            sb.String(),
		Identity:        item.Identity,
		CriticalContext: critical,
	}
}
