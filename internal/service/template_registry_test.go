package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

func testRegistry(t *testing.T) *TemplateRegistry {
	t.Helper()
	reg, err := NewTemplateRegistry([]*WorkflowTemplate{
		{
			ID:         "contract-large",
			Name:       "Large contract",
			EntityType: repository.EntityContract,
			Conditions: TemplateConditions{MinAmount: amount(50_000)},
			Steps: []TemplateStep{
				{StepNumber: 1, Name: "Manager", ApproverRoles: []string{"manager"}, Required: true},
				{StepNumber: 2, Name: "Director", ApproverRoles: []string{"director"}, Required: true},
			},
		},
		{
			ID:         "contract-role-gate",
			Name:       "Contract by non-manager",
			EntityType: repository.EntityContract,
			Conditions: TemplateConditions{RequiresRole: []string{"manager"}},
			Steps: []TemplateStep{
				{StepNumber: 1, Name: "Manager", ApproverRoles: []string{"manager"}, Required: true},
			},
		},
		{
			ID:         "payment-large",
			Name:       "Large payment",
			EntityType: repository.EntityPayment,
			Conditions: TemplateConditions{MinAmount: amount(10_000)},
			Steps: []TemplateStep{
				{StepNumber: 1, Name: "Accountant", ApproverRoles: []string{"accountant"}, Required: true},
				{StepNumber: 2, Name: "Financial manager", ApproverRoles: []string{"financial_manager"}, Required: true},
			},
		},
	})
	require.NoError(t, err)
	return reg
}

func TestRegistryLookups(t *testing.T) {
	reg := testRegistry(t)

	assert.NotNil(t, reg.GetTemplateByID("payment-large"))
	assert.Nil(t, reg.GetTemplateByID("nope"))

	contracts := reg.GetTemplatesByEntityType(repository.EntityContract)
	require.Len(t, contracts, 2)
	assert.Equal(t, "contract-large", contracts[0].ID)
	assert.Equal(t, "contract-role-gate", contracts[1].ID)

	assert.Empty(t, reg.GetTemplatesByEntityType(repository.EntityExpense))
}

func TestRegistryValidation(t *testing.T) {
	_, err := NewTemplateRegistry([]*WorkflowTemplate{
		{ID: "empty", EntityType: repository.EntityContract},
	})
	assert.Error(t, err, "empty steps must be rejected")

	_, err = NewTemplateRegistry([]*WorkflowTemplate{
		{
			ID:         "gap",
			EntityType: repository.EntityContract,
			Steps: []TemplateStep{
				{StepNumber: 1, Name: "a", ApproverRoles: []string{"r"}},
				{StepNumber: 3, Name: "b", ApproverRoles: []string{"r"}},
			},
		},
	})
	assert.Error(t, err, "non-contiguous step numbers must be rejected")

	_, err = NewTemplateRegistry([]*WorkflowTemplate{
		{
			ID:         "bad-entity",
			EntityType: repository.EntityType("spaceship"),
			Steps:      []TemplateStep{{StepNumber: 1, Name: "a", ApproverRoles: []string{"r"}}},
		},
	})
	assert.Error(t, err, "unknown entity type must be rejected")
}

func TestAmountBoundaryIsInclusive(t *testing.T) {
	eval := NewFirstMatchEvaluator(testRegistry(t))

	below := eval.IsWorkflowRequired(repository.EntityContract, amount(49_999), []string{"manager"})
	assert.False(t, below.Required)
	assert.Nil(t, below.Template)

	at := eval.IsWorkflowRequired(repository.EntityContract, amount(50_000), []string{"manager"})
	assert.True(t, at.Required)
	require.NotNil(t, at.Template)
	assert.Equal(t, "contract-large", at.Template.ID)
}

func TestRoleGapSelectsTemplate(t *testing.T) {
	eval := NewFirstMatchEvaluator(testRegistry(t))

	// Caller without the gating role triggers the role-gated template even
	// for a small amount.
	dec := eval.IsWorkflowRequired(repository.EntityContract, amount(100), []string{"clerk"})
	assert.True(t, dec.Required)
	require.NotNil(t, dec.Template)
	assert.Equal(t, "contract-role-gate", dec.Template.ID)

	// Holding the gating role with a small amount requires nothing.
	dec = eval.IsWorkflowRequired(repository.EntityContract, amount(100), []string{"manager"})
	assert.False(t, dec.Required)
}

func TestConditionsAreAlternativesFirstMatchWins(t *testing.T) {
	eval := NewFirstMatchEvaluator(testRegistry(t))

	// Large amount and missing role both hold; the earlier-registered
	// template wins.
	dec := eval.IsWorkflowRequired(repository.EntityContract, amount(90_000), []string{"clerk"})
	assert.True(t, dec.Required)
	require.NotNil(t, dec.Template)
	assert.Equal(t, "contract-large", dec.Template.ID)
}

func TestNoTemplateForEntityType(t *testing.T) {
	eval := NewFirstMatchEvaluator(testRegistry(t))

	dec := eval.IsWorkflowRequired(repository.EntityTransfer, amount(1_000_000), nil)
	assert.False(t, dec.Required)
}

func TestNilAmountSkipsAmountCondition(t *testing.T) {
	eval := NewFirstMatchEvaluator(testRegistry(t))

	dec := eval.IsWorkflowRequired(repository.EntityPayment, nil, []string{"accountant"})
	assert.False(t, dec.Required)
}

func TestDefaultCatalogRegisters(t *testing.T) {
	reg, err := NewTemplateRegistry(DefaultCatalog())
	require.NoError(t, err)
	assert.NotNil(t, reg.GetTemplateByID("payment-large"))
	assert.NotEmpty(t, reg.GetTemplatesByEntityType(repository.EntityExpense))
}
