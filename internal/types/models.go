package types

import "time"

// WorkItem is one manifest row: a recorded call awaiting processing.
// AudioRef is the manifest reference used for dedup.
type WorkItem struct {
	Identity string    `json:"identity" validate:"required,max=64"`
	CallDate time.Time `json:"call_date"`
	AudioRef string    `json:"audio_ref" validate:"required,audioref"`
}

type Transcription struct {
	Text            string  `json:"text"`
	Confidence      float64 `json:"confidence"`
	DurationSeconds int     `json:"duration_seconds"`
	Cost            float64 `json:"cost"`
	Provider        string  `json:"provider"`
}

const TranscriptProcessed = "processed"

type TranscriptRecord struct {
	TranscriptID    string    `json:"transcript_id"`
	Identity        string    `json:"identity"`
	CallDate        time.Time `json:"call_date"`
	AudioRef        string    `json:"audio_ref"`
	Text            string    `json:"text"`
	Confidence      float64   `json:"confidence"`
	DurationSeconds int       `json:"duration_seconds"`
	ProviderCost    float64   `json:"provider_cost"`
	Provider        string    `json:"provider"`
	Status          string    `json:"status"`
	WeakID          bool      `json:"weak_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// NoPriorOutcome marks a ValidationContext with no prior validation on file.
const NoPriorOutcome = "none"

type ValidationContext struct {
	PriorOutcomeType string    `json:"prior_outcome_type"`
	CounterpartName  string    `json:"counterpart_name,omitempty"`
	SellerName       string    `json:"seller_name,omitempty"`
	SupervisorName   string    `json:"supervisor_name,omitempty"`
	ManagerName      string    `json:"manager_name,omitempty"`
	ContextTimestamp time.Time `json:"context_timestamp,omitempty"`
}

func NoneContext() ValidationContext {
	return ValidationContext{PriorOutcomeType: NoPriorOutcome}
}

func (v ValidationContext) IsNone() bool {
	return v.PriorOutcomeType == "" || v.PriorOutcomeType == NoPriorOutcome
}

// Criterion indexes the five rubric items.
type Criterion int

const (
	IdentityDisclosure Criterion = iota
	ContractTermVerification
	FairnessOfOutcomeDisclosure
	ComprehensionCheck
	NextStepsDisclosure
)

const CriteriaCount = 5

var criterionNames = [CriteriaCount]string{
	"identity_disclosure",
	"contract_term_verification",
	"fairness_of_outcome_disclosure",
	"comprehension_check",
	"next_steps_disclosure",
}

func (c Criterion) String() string {
	if c < 0 || int(c) >= CriteriaCount {
		return "unknown"
	}
	return criterionNames[c]
}

// CriterionJudgment holds the oracle's five independent booleans.
type CriterionJudgment [CriteriaCount]bool

func (j CriterionJudgment) Count() int {
	n := 0
	for _, ok := range j {
		if ok {
			n++
		}
	}
	return n
}

func (j CriterionJudgment) Met(c Criterion) bool {
	if c < 0 || int(c) >= CriteriaCount {
		return false
	}
	return j[c]
}

type Judgment struct {
	Criteria         CriterionJudgment `json:"criteria"`
	Rationale        string            `json:"rationale"`
	Model            string            `json:"model,omitempty"`
	PromptTokens     int64             `json:"prompt_tokens,omitempty"`
	CompletionTokens int64             `json:"completion_tokens,omitempty"`
	Cost             float64           `json:"cost"`
}

type Category string

const (
	CategoryTop  Category = "TOP"
	CategoryHigh Category = "HIGH"
	CategoryMid  Category = "MID"
	CategoryLow  Category = "LOW"
)

type Conformity string

const (
	Conforming    Conformity = "CONFORMING"
	Nonconforming Conformity = "NONCONFORMING"
)

type AnalysisRecord struct {
	AnalysisID       string            `json:"analysis_id"`
	TranscriptID     string            `json:"transcript_id"`
	Identity         string            `json:"identity"`
	CallDate         time.Time         `json:"call_date"`
	Criteria         CriterionJudgment `json:"criteria"`
	Category         Category          `json:"category"`
	Conformity       Conformity        `json:"conformity"`
	Score            int               `json:"score"`
	RationaleText    string            `json:"rationale_text"`
	OracleRationale  string            `json:"oracle_rationale,omitempty"`
	ContextApplied   bool              `json:"context_applied"`
	PriorOutcomeType string            `json:"prior_outcome_type"`
	SellerName       string            `json:"seller_name,omitempty"`
	SupervisorName   string            `json:"supervisor_name,omitempty"`
	Model            string            `json:"model,omitempty"`
	Cost             float64           `json:"cost"`
	CreatedAt        time.Time         `json:"created_at"`
}
