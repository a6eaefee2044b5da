package domain

import (
	"bytes"
	"encoding/json"
)

// Document is the root of a workflow definition.
type Document struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Version        int             `json:"version"`
	Objective      string          `json:"objective"`
	Metadata       Metadata        `json:"metadata"`
	Goals          []Goal          `json:"goals"`
	GlobalSettings *GlobalSettings `json:"global_settings,omitempty"`
}

type Metadata struct {
	CreatedAt    string   `json:"created_at,omitempty" format:"date-time"`
	LastModified string   `json:"last_modified,omitempty" format:"date-time"`
	Author       string   `json:"author,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Source       string   `json:"source,omitempty"`
}

type GlobalSettings struct {
	Timezone              string         `json:"timezone,omitempty"`
	DefaultTimeoutMinutes *int           `json:"default_timeout_minutes,omitempty"`
	MaxParallelTasks      *int           `json:"max_parallel_tasks,omitempty"`
	NotificationChannels  []string       `json:"notification_channels,omitempty"`
	Variables             map[string]any `json:"variables,omitempty"`
}

type Goal struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Order       int          `json:"order"`
	Constraints []Constraint `json:"constraints"`
	Policies    []Policy     `json:"policies"`
	Tasks       []Task       `json:"tasks"`
	Forms       []Form       `json:"forms"`
}

type Constraint struct {
	ID          string           `json:"id"`
	Description string           `json:"description"`
	Type        ConstraintType   `json:"type"`
	Enforcement EnforcementLevel `json:"enforcement"`
	Value       string           `json:"value,omitempty"`
	Threshold   *float64         `json:"threshold,omitempty"`
	Unit        string           `json:"unit,omitempty"`
	Deadline    string           `json:"deadline,omitempty"`
	Metric      string           `json:"metric,omitempty"`
	Scope       string           `json:"scope,omitempty"`
}

type Policy struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	If          Condition `json:"if"`
	Then        Action    `json:"then"`
}

// Condition is a tagged union: exactly one of the simple triple
// (Field, Operator, Value), AllOf, AnyOf or Expression is set.
type Condition struct {
	Field      string      `json:"field,omitempty"`
	Operator   string      `json:"operator,omitempty"`
	Value      any         `json:"value,omitempty"`
	AllOf      []Condition `json:"all_of,omitempty"`
	AnyOf      []Condition `json:"any_of,omitempty"`
	Expression string      `json:"condition,omitempty"`
}

type ConditionKind string

const (
	ConditionSimple     ConditionKind = "simple"
	ConditionAllOf      ConditionKind = "all_of"
	ConditionAnyOf      ConditionKind = "any_of"
	ConditionExpression ConditionKind = "condition"
	ConditionUnknown    ConditionKind = ""
)

// MarshalJSON keeps the populated variant on the wire even when it is
// empty: an all_of or any_of with no conditions stays an empty array and a
// simple condition keeps its value key when the value is null.
func (c Condition) MarshalJSON() ([]byte, error) {
	type plain Condition
	data, err := json.Marshal(plain(c))
	if err != nil {
		return nil, err
	}
	var extra [][]byte
	if c.AllOf != nil && len(c.AllOf) == 0 {
		extra = append(extra, []byte(`"all_of":[]`))
	}
	if c.AnyOf != nil && len(c.AnyOf) == 0 {
		extra = append(extra, []byte(`"any_of":[]`))
	}
	if (c.Field != "" || c.Operator != "") && c.Value == nil {
		extra = append(extra, []byte(`"value":null`))
	}
	if len(extra) == 0 {
		return data, nil
	}
	fields := bytes.Join(extra, []byte(","))
	body := data[:len(data)-1]
	if len(body) > 1 {
		body = append(body, ',')
	}
	return append(append(body, fields...), '}'), nil
}

// Kind reports which variant of the union is populated.
func (c Condition) Kind() ConditionKind {
	switch {
	case c.AllOf != nil:
		return ConditionAllOf
	case c.AnyOf != nil:
		return ConditionAnyOf
	case c.Expression != "":
		return ConditionExpression
	case c.Field != "" || c.Operator != "":
		return ConditionSimple
	default:
		return ConditionUnknown
	}
}

type Action struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
}

type Task struct {
	ID             string   `json:"id"`
	Name           string   `json:"name,omitempty"`
	Description    string   `json:"description"`
	Assignee       Assignee `json:"assignee"`
	DependsOn      []string `json:"depends_on,omitempty"`
	TimeoutMinutes *int     `json:"timeout_minutes,omitempty"`
	Priority       string   `json:"priority,omitempty"`
	Inputs         []string `json:"inputs,omitempty"`
	Outputs        []string `json:"outputs,omitempty"`
}

type Assignee struct {
	Type         AssigneeType `json:"type"`
	Model        string       `json:"model,omitempty"`
	Capabilities []string     `json:"capabilities,omitempty"`
	Role         string       `json:"role,omitempty"`
	Name         string       `json:"name,omitempty"`
}

type Form struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Type        FormType    `json:"type"`
	Description string      `json:"description,omitempty"`
	Fields      []FormField `json:"fields,omitempty"`
	Prompts     []string    `json:"prompts,omitempty"`
	Trigger     *Trigger    `json:"trigger,omitempty"`
	Source      string      `json:"source,omitempty"`
}

type FormField struct {
	Name     string   `json:"name"`
	Label    string   `json:"label,omitempty"`
	Type     string   `json:"type,omitempty"`
	Required bool     `json:"required,omitempty"`
	Options  []string `json:"options,omitempty"`
}

type Trigger struct {
	Type     TriggerType `json:"type"`
	Schedule string      `json:"schedule,omitempty"`
	Event    string      `json:"event,omitempty"`
}

// DocumentInfo is the listing view of a stored document.
type DocumentInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	LatestVersion int    `json:"latest_version"`
	CreatedBy     string `json:"created_by"`
	CreatedAt     string `json:"created_at" format:"date-time"`
	UpdatedAt     string `json:"updated_at" format:"date-time"`
}

// VersionInfo describes one persisted version of a document.
type VersionInfo struct {
	DocumentID string `json:"document_id"`
	Version    int    `json:"version"`
	ActorID    string `json:"actor_id"`
	Summary    string `json:"summary,omitempty"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}
