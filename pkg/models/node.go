package models

// NodeType is the discriminant of a workflow node.
type NodeType string

const (
	NodeTypeTrigger   NodeType = "trigger"
	NodeTypeAction    NodeType = "action"
	NodeTypeCondition NodeType = "condition"
	NodeTypeDelay     NodeType = "delay"
)

// Valid reports whether t is a known node type.
func (t NodeType) Valid() bool {
	switch t {
	case NodeTypeTrigger, NodeTypeAction, NodeTypeCondition, NodeTypeDelay:
		return true
	default:
		return false
	}
}

// Built-in node templates.
const (
	TemplateManualTrigger   = "manual"
	TemplateScheduleTrigger = "schedule"
	TemplateWebhookTrigger  = "webhook"
	TemplateDatabaseTrigger = "database"
	TemplateEmail           = "email"
	TemplateHTTP            = "http"
	TemplateRecord          = "record"
	TemplateLog             = "log"
	TemplateIf              = "if"
	TemplateWait            = "wait"
	TemplateTransform       = "transform"
)

// Branch values used on connections leaving a condition node.
const (
	BranchTrue  = "true"
	BranchFalse = "false"
)

// Position is the canvas coordinate of a node. It carries no execution semantics.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Connection is a directed edge between two nodes of the same workflow.
type Connection struct {
	ID        string `json:"id"`
	From      string `json:"from"                validate:"required"`
	To        string `json:"to"                  validate:"required"`
	Condition string `json:"condition,omitempty"`
}

// WorkflowNode is a node instance in a workflow.
type WorkflowNode struct {
	ID          string         `json:"id"`
	Type        NodeType       `json:"type"        validate:"required,oneof=trigger action condition delay"`
	Template    string         `json:"template"    validate:"required"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Position    Position       `json:"position"`
	Config      map[string]any `json:"config"`
	Connections []string       `json:"connections"`
}

// NodeTemplate describes a node that can be placed on a workflow canvas.
type NodeTemplate struct {
	ID            string         `json:"id"`
	Type          NodeType       `json:"type"`
	Title         string         `json:"title"`
	Description   string         `json:"description"`
	DefaultConfig map[string]any `json:"defaultConfig"`
	Schema        map[string]any `json:"schema"`
}
