package service

import "github.com/pesio-ai/be-plt-approvals/internal/repository"

func amount(cents int64) *int64 { return &cents }

// DefaultCatalog is the statically authored template catalog for the
// back-office suite. Registration order matters: activation evaluates
// templates in this order and the first match wins.
func DefaultCatalog() []*WorkflowTemplate {
	return []*WorkflowTemplate{
		{
			ID:         "contract-large",
			Name:       "Large contract sign-off",
			EntityType: repository.EntityContract,
			Conditions: TemplateConditions{MinAmount: amount(50_000_00)},
			Steps: []TemplateStep{
				{StepNumber: 1, Name: "Department manager review", ApproverRoles: []string{"department_manager"}, Required: true},
				{StepNumber: 2, Name: "Legal review", ApproverRoles: []string{"legal"}, Required: true},
				{StepNumber: 3, Name: "Director sign-off", ApproverRoles: []string{"director"}, Required: true},
			},
		},
		{
			ID:         "contract-restricted",
			Name:       "Contract by non-manager",
			EntityType: repository.EntityContract,
			Conditions: TemplateConditions{RequiresRole: []string{"department_manager", "director"}},
			Steps: []TemplateStep{
				{StepNumber: 1, Name: "Department manager review", ApproverRoles: []string{"department_manager"}, Required: true},
			},
		},
		{
			ID:         "payment-large",
			Name:       "Large payment release",
			EntityType: repository.EntityPayment,
			Conditions: TemplateConditions{MinAmount: amount(10_000_00)},
			Steps: []TemplateStep{
				{StepNumber: 1, Name: "Accounting check", ApproverRoles: []string{"accountant"}, Required: true},
				{StepNumber: 2, Name: "Financial manager release", ApproverRoles: []string{"financial_manager"}, Required: true},
			},
		},
		{
			ID:         "invoice-standard",
			Name:       "Invoice approval",
			EntityType: repository.EntityInvoice,
			Conditions: TemplateConditions{MinAmount: amount(5_000_00)},
			Steps: []TemplateStep{
				{StepNumber: 1, Name: "Accounting check", ApproverRoles: []string{"accountant"}, Required: true},
				{StepNumber: 2, Name: "Financial manager approval", ApproverRoles: []string{"financial_manager"}, Required: true},
			},
		},
		{
			ID:         "purchase-order",
			Name:       "Purchase order approval",
			EntityType: repository.EntityPurchaseOrder,
			Conditions: TemplateConditions{MinAmount: amount(2_500_00)},
			Steps: []TemplateStep{
				{StepNumber: 1, Name: "Procurement review", ApproverRoles: []string{"procurement"}, Required: true},
				{StepNumber: 2, Name: "Budget owner approval", ApproverRoles: []string{"budget_owner"}, Required: true},
			},
		},
		{
			ID:         "expense-report",
			Name:       "Expense report approval",
			EntityType: repository.EntityExpense,
			Conditions: TemplateConditions{MinAmount: amount(500_00)},
			Steps: []TemplateStep{
				{StepNumber: 1, Name: "Line manager approval", ApproverRoles: []string{"manager"}, Required: true},
			},
		},
		{
			ID:         "transfer-interco",
			Name:       "Intercompany transfer",
			EntityType: repository.EntityTransfer,
			Conditions: TemplateConditions{MinAmount: amount(25_000_00)},
			Steps: []TemplateStep{
				{StepNumber: 1, Name: "Treasury check", ApproverRoles: []string{"treasury"}, Required: true},
				{StepNumber: 2, Name: "CFO release", ApproverRoles: []string{"cfo"}, Required: true},
			},
		},
	}
}
