package domain

import "strings"

// Kind names an entity collection. It doubles as the id prefix.
type Kind string

const (
	KindDocument       Kind = "document"
	KindGoal           Kind = "goal"
	KindConstraint     Kind = "constraint"
	KindPolicy         Kind = "policy"
	KindTask           Kind = "task"
	KindForm           Kind = "form"
	KindMetadata       Kind = "metadata"
	KindGlobalSettings Kind = "global_settings"
)

// Label is the human form used in validation messages, e.g. "Task".
func (k Kind) Label() string {
	switch k {
	case KindGlobalSettings:
		return "GlobalSettings"
	case "":
		return "Entity"
	}
	s := string(k)
	return strings.ToUpper(s[:1]) + s[1:]
}

// ElementKinds are the goal children that can move between goals.
var ElementKinds = []Kind{KindConstraint, KindPolicy, KindTask, KindForm}

type ConstraintType string

const (
	ConstraintTime       ConstraintType = "time"
	ConstraintBudget     ConstraintType = "budget"
	ConstraintResource   ConstraintType = "resource"
	ConstraintQuality    ConstraintType = "quality"
	ConstraintCompliance ConstraintType = "compliance"
	ConstraintSecurity   ConstraintType = "security"
	ConstraintDependency ConstraintType = "dependency"
	ConstraintApproval   ConstraintType = "approval"
	ConstraintData       ConstraintType = "data"
	ConstraintCustom     ConstraintType = "custom"
)

var constraintTypes = []ConstraintType{
	ConstraintTime, ConstraintBudget, ConstraintResource, ConstraintQuality, ConstraintCompliance,
	ConstraintSecurity, ConstraintDependency, ConstraintApproval, ConstraintData, ConstraintCustom,
}

type EnforcementLevel string

const (
	EnforcementHard            EnforcementLevel = "hard"
	EnforcementSoft            EnforcementLevel = "soft"
	EnforcementBlock           EnforcementLevel = "block"
	EnforcementWarn            EnforcementLevel = "warn"
	EnforcementLog             EnforcementLevel = "log"
	EnforcementNotify          EnforcementLevel = "notify"
	EnforcementEscalate        EnforcementLevel = "escalate"
	EnforcementRequireApproval EnforcementLevel = "require_approval"
	EnforcementAutoCorrect     EnforcementLevel = "auto_correct"
	EnforcementAudit           EnforcementLevel = "audit"
)

var enforcementLevels = []EnforcementLevel{
	EnforcementHard, EnforcementSoft, EnforcementBlock, EnforcementWarn, EnforcementLog,
	EnforcementNotify, EnforcementEscalate, EnforcementRequireApproval, EnforcementAutoCorrect, EnforcementAudit,
}

type AssigneeType string

const (
	AssigneeAIAgent AssigneeType = "ai_agent"
	AssigneeHuman   AssigneeType = "human"
)

var assigneeTypes = []AssigneeType{AssigneeAIAgent, AssigneeHuman}

type FormType string

const (
	FormStructured     FormType = "structured"
	FormConversational FormType = "conversational"
	FormAutomated      FormType = "automated"
)

var formTypes = []FormType{FormStructured, FormConversational, FormAutomated}

type TriggerType string

const (
	TriggerManual    TriggerType = "manual"
	TriggerSchedule  TriggerType = "schedule"
	TriggerEvent     TriggerType = "event"
	TriggerWebhook   TriggerType = "webhook"
	TriggerCondition TriggerType = "condition"
)

var triggerTypes = []TriggerType{TriggerManual, TriggerSchedule, TriggerEvent, TriggerWebhook, TriggerCondition}

// ConditionOperators are the operators a simple condition is expected to use.
var ConditionOperators = []string{
	"equals", "not_equals", "greater_than", "less_than", "greater_or_equal", "less_or_equal",
	"contains", "not_contains", "in", "not_in", "exists", "matches",
}

// TaskPriorities are the recognised task priority labels.
var TaskPriorities = []string{"low", "medium", "high", "critical"}

func ConstraintTypes() []string { return names(constraintTypes) }
func EnforcementLevels() []string { return names(enforcementLevels) }
func AssigneeTypes() []string { return names(assigneeTypes) }
func FormTypes() []string { return names(formTypes) }
func TriggerTypes() []string { return names(triggerTypes) }

func names[T ~string](vals []T) []string {
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = string(v)
	}
	return out
}
