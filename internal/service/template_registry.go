package service

import (
	"fmt"

	"github.com/pesio-ai/be-plt-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// TemplateStep is one ordered step definition inside a template. It carries
// no status; instances get stamped from it at workflow creation.
type TemplateStep struct {
	StepNumber     int      `json:"step_number"`
	Name           string   `json:"name"`
	ApproverRoles  []string `json:"approver_roles"`
	ApproverUserID *string  `json:"approver_user_id,omitempty"`
	Required       bool     `json:"required"`
}

// TemplateConditions decide when a template's workflow must be interposed
// before a business operation. MinAmount is inclusive, in cents.
type TemplateConditions struct {
	MinAmount    *int64   `json:"min_amount,omitempty"`
	RequiresRole []string `json:"requires_role,omitempty"`
}

// WorkflowTemplate is the reusable, statically declared blueprint of ordered
// steps and activation conditions for an entity type.
type WorkflowTemplate struct {
	ID         string                `json:"id"`
	Name       string                `json:"name"`
	EntityType repository.EntityType `json:"entity_type"`
	Steps      []TemplateStep        `json:"steps"`
	Conditions TemplateConditions    `json:"conditions"`
}

// TemplateRegistry is the static catalog of workflow templates, queryable by
// id and by entity type. Templates are registered at construction; there is
// no runtime CRUD.
type TemplateRegistry struct {
	byID    map[string]*WorkflowTemplate
	ordered []*WorkflowTemplate
}

// NewTemplateRegistry validates and indexes the given templates. Registration
// order is preserved; it is the evaluation order for activation decisions.
func NewTemplateRegistry(templates []*WorkflowTemplate) (*TemplateRegistry, error) {
	r := &TemplateRegistry{byID: make(map[string]*WorkflowTemplate, len(templates))}

	for _, tpl := range templates {
		if tpl.ID == "" {
			return nil, errors.InvalidInput("template.id", "template id is required")
		}
		if !repository.ValidEntityType(tpl.EntityType) {
			return nil, errors.InvalidInput("template.entity_type",
				fmt.Sprintf("unknown entity type '%s' in template '%s'", tpl.EntityType, tpl.ID))
		}
		if len(tpl.Steps) == 0 {
			return nil, errors.InvalidInput("template.steps",
				fmt.Sprintf("template '%s' has no steps", tpl.ID))
		}
		for i, step := range tpl.Steps {
			if step.StepNumber != i+1 {
				return nil, errors.InvalidInput("template.steps",
					fmt.Sprintf("template '%s' step numbers must be contiguous from 1", tpl.ID))
			}
		}
		if _, exists := r.byID[tpl.ID]; exists {
			return nil, errors.InvalidInput("template.id",
				fmt.Sprintf("duplicate template id '%s'", tpl.ID))
		}

		r.byID[tpl.ID] = tpl
		r.ordered = append(r.ordered, tpl)
	}

	return r, nil
}

// GetTemplateByID returns the template, or nil when unknown.
func (r *TemplateRegistry) GetTemplateByID(id string) *WorkflowTemplate {
	return r.byID[id]
}

// GetTemplatesByEntityType returns all templates for an entity type in
// registration order.
func (r *TemplateRegistry) GetTemplatesByEntityType(t repository.EntityType) []*WorkflowTemplate {
	var out []*WorkflowTemplate
	for _, tpl := range r.ordered {
		if tpl.EntityType == t {
			out = append(out, tpl)
		}
	}
	return out
}

// Templates returns the full catalog in registration order.
func (r *TemplateRegistry) Templates() []*WorkflowTemplate {
	return append([]*WorkflowTemplate(nil), r.ordered...)
}

// ActivationDecision is the outcome of an activation check.
type ActivationDecision struct {
	Required bool              `json:"required"`
	Template *WorkflowTemplate `json:"template,omitempty"`
}

// ActivationEvaluator decides whether a business operation must be routed
// through an approval workflow before proceeding, and via which template.
// It is an interface so the matching policy can be swapped without touching
// the engine.
type ActivationEvaluator interface {
	IsWorkflowRequired(entityType repository.EntityType, amount *int64, roles []string) ActivationDecision
}

// FirstMatchEvaluator evaluates a template's conditions as alternatives: an
// amount at or above MinAmount selects it, and independently a caller whose
// roles do not intersect RequiresRole selects it. The first template
// satisfying either test wins.
type FirstMatchEvaluator struct {
	registry *TemplateRegistry
}

// NewFirstMatchEvaluator creates the default evaluator over a registry.
func NewFirstMatchEvaluator(registry *TemplateRegistry) *FirstMatchEvaluator {
	return &FirstMatchEvaluator{registry: registry}
}

// IsWorkflowRequired implements ActivationEvaluator.
func (e *FirstMatchEvaluator) IsWorkflowRequired(entityType repository.EntityType, amount *int64, roles []string) ActivationDecision {
	for _, tpl := range e.registry.GetTemplatesByEntityType(entityType) {
		if tpl.Conditions.MinAmount != nil && amount != nil && *amount >= *tpl.Conditions.MinAmount {
			return ActivationDecision{Required: true, Template: tpl}
		}
		if len(tpl.Conditions.RequiresRole) > 0 && !rolesIntersect(roles, tpl.Conditions.RequiresRole) {
			return ActivationDecision{Required: true, Template: tpl}
		}
	}
	return ActivationDecision{Required: false}
}

func rolesIntersect(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
