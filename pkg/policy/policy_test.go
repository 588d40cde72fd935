package policy_test

import (
	"testing"

	"github.com/cortexbuild/cortexflow/pkg/models"
	"github.com/cortexbuild/cortexflow/pkg/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicy_CanAccess(t *testing.T) {
	t.Parallel()

	p := policy.Default()

	companyA := models.Actor{UserID: "u-a", Role: models.RoleUser, CompanyID: "company-a"}
	companyB := models.Actor{UserID: "u-b", Role: models.RoleUser, CompanyID: "company-b"}
	superAdmin := models.Actor{UserID: "root", Role: models.RoleSuperAdmin}
	developer := models.Actor{UserID: "dev-1", Role: models.RoleDeveloper, CompanyID: "company-a"}

	workflow := models.Resource{Kind: models.ResourceWorkflow, ID: "wf", CompanyID: "company-a"}
	draftAgent := models.Resource{Kind: models.ResourceAgent, ID: "ag", OwnerID: "dev-1"}
	publicAgent := models.Resource{Kind: models.ResourceAgent, ID: "ag", OwnerID: "dev-1", Public: true}
	execution := models.Resource{Kind: models.ResourceAgentExecution, ID: "ex", OwnerID: "u-a", CompanyID: "company-a"}

	tests := []struct {
		name     string
		actor    models.Actor
		resource models.Resource
		action   policy.Action
		expected bool
	}{
		{"same company reads workflow", companyA, workflow, policy.ActionRead, true},
		{"other company cannot read workflow", companyB, workflow, policy.ActionRead, false},
		{"other company cannot delete workflow", companyB, workflow, policy.ActionDelete, false},
		{"super admin bypasses tenant", superAdmin, workflow, policy.ActionUpdate, true},
		{"owner developer publishes", developer, draftAgent, policy.ActionPublish, true},
		{"non owner cannot publish", models.Actor{UserID: "dev-2", Role: models.RoleDeveloper}, draftAgent, policy.ActionPublish, false},
		{"plain user cannot publish own agent", models.Actor{UserID: "dev-1", Role: models.RoleUser}, draftAgent, policy.ActionPublish, false},
		{"subscribe to public agent", companyB, publicAgent, policy.ActionSubscribe, true},
		{"subscribe to private agent", companyB, draftAgent, policy.ActionSubscribe, false},
		{"owner reads execution", companyA, execution, policy.ActionRead, true},
		{"company peer cannot read execution", models.Actor{UserID: "u-c", Role: models.RoleCompanyAdmin, CompanyID: "company-a"}, execution, policy.ActionRead, false},
		{"anonymous actor denied", models.Actor{}, publicAgent, policy.ActionRead, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, p.CanAccess(tt.actor, tt.resource, tt.action))
		})
	}
}

func TestPolicy_Allows(t *testing.T) {
	t.Parallel()

	p := policy.Default()

	assert.True(t, p.Allows(models.Actor{Role: models.RoleDeveloper}, models.ResourceAgent, policy.ActionCreate))
	assert.True(t, p.Allows(models.Actor{Role: models.RoleSuperAdmin}, models.ResourceAgent, policy.ActionCreate))
	assert.False(t, p.Allows(models.Actor{Role: models.RoleUser}, models.ResourceAgent, policy.ActionCreate))
	assert.False(t, p.Allows(models.Actor{Role: models.RoleCompanyAdmin}, models.ResourceAgent, policy.ActionPublish))
}

func TestPolicy_Unrestricted(t *testing.T) {
	t.Parallel()

	p := policy.Default()

	assert.True(t, p.Unrestricted(models.Actor{Role: models.RoleSuperAdmin}, models.ResourceWorkflow, policy.ActionList))
	assert.False(t, p.Unrestricted(models.Actor{Role: models.RoleCompanyAdmin}, models.ResourceWorkflow, policy.ActionList))
	assert.True(t, p.Unrestricted(models.Actor{Role: models.RoleUser}, models.ResourceAgent, policy.ActionRead))
}

func TestParse(t *testing.T) {
	t.Parallel()

	t.Run("custom table", func(t *testing.T) {
		t.Parallel()

		p, err := policy.Parse([]byte(`
rules:
  - roles: [auditor]
    resource: workflow
    actions: [read]
    scope: any
`))
		require.NoError(t, err)

		auditor := models.Actor{UserID: "a", Role: "auditor"}
		wf := models.Resource{Kind: models.ResourceWorkflow, CompanyID: "x"}
		assert.True(t, p.CanAccess(auditor, wf, policy.ActionRead))
		assert.False(t, p.CanAccess(auditor, wf, policy.ActionUpdate))
	})

	t.Run("unknown scope", func(t *testing.T) {
		t.Parallel()

		_, err := policy.Parse([]byte(`
rules:
  - roles: [user]
    resource: workflow
    actions: [read]
    scope: galaxy
`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown scope")
	})

	t.Run("missing actions", func(t *testing.T) {
		t.Parallel()

		_, err := policy.Parse([]byte("rules:\n  - roles: [user]\n    resource: workflow\n    scope: any\n"))
		require.Error(t, err)
	})
}

func TestLoad_EmptyPathUsesDefault(t *testing.T) {
	t.Parallel()

	p, err := policy.Load("")
	require.NoError(t, err)
	assert.True(t, p.Allows(models.Actor{Role: models.RoleDeveloper}, models.ResourceAgent, policy.ActionCreate))
}
