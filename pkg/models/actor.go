package models

// Role names understood by the policy table.
const (
	RoleSuperAdmin   = "super_admin"
	RoleCompanyAdmin = "company_admin"
	RoleDeveloper    = "developer"
	RoleUser         = "user"
)

// SystemUserID identifies executions started by the engine itself.
const SystemUserID = "system"

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID    string `json:"userId"`
	Role      string `json:"role"`
	CompanyID string `json:"companyId"`
}

// SystemActor returns the actor used by internal triggers such as the scheduler.
func SystemActor() Actor {
	return Actor{UserID: SystemUserID, Role: RoleSuperAdmin}
}

// ResourceKind names a class of protected resources.
type ResourceKind string

const (
	ResourceWorkflow       ResourceKind = "workflow"
	ResourceAgent          ResourceKind = "agent"
	ResourceAgentExecution ResourceKind = "agent_execution"
)

// Resource is the authorization view of a protected object.
type Resource struct {
	Kind      ResourceKind
	ID        string
	CompanyID string
	OwnerID   string
	Public    bool
}
