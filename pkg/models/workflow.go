// Package models defines the core domain models for tenant-scoped workflow automation and the agent marketplace
package models

import "time"

// Workflow is a tenant-owned directed graph of nodes and connections.
type Workflow struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"                  validate:"required,min=3,max=200"`
	Description string          `json:"description"`
	Nodes       []*WorkflowNode `json:"nodes"`
	Connections []*Connection   `json:"connections"`
	IsActive    bool            `json:"isActive"`
	CompanyID   string          `json:"companyId"`
	CreatedBy   string          `json:"createdBy"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// NodeByID returns the node with the given id, or nil.
func (w *Workflow) NodeByID(id string) *WorkflowNode {
	for _, node := range w.Nodes {
		if node.ID == id {
			return node
		}
	}

	return nil
}

// Resource describes the workflow for authorization checks.
func (w *Workflow) Resource() Resource {
	return Resource{
		Kind:      ResourceWorkflow,
		ID:        w.ID,
		CompanyID: w.CompanyID,
		OwnerID:   w.CreatedBy,
	}
}
