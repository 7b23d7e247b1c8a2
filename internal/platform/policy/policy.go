// Package policy evaluates role based access rules loaded from a declarative table.
package policy

import (
	_ "embed"
	"errors"
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Actions understood by the rule table.
const (
	ActionManage   = "manage"
	ActionCreate   = "create"
	ActionRead     = "read"
	ActionUpdate   = "update"
	ActionPurchase = "purchase"
	ActionCancel   = "cancel"
	ActionProcess  = "process"
	ActionShip     = "ship"
	ActionDeliver  = "deliver"
	ActionRefund   = "refund"
)

// Resource types understood by the rule table.
const (
	ResourceOrder       = "Order"
	ResourceProduct     = "Product"
	ResourcePromoCode   = "PromoCode"
	ResourceCart        = "Cart"
	ResourceProductLike = "ProductLike"
)

// RoleGuest is the role assumed for unauthenticated callers.
const RoleGuest = "GUEST"

// AttrSubjectID carries the caller's user id. Conditions with equalsSubject compare against it.
const AttrSubjectID = "subjectId"

// Resource attributes referenced by the rule table.
const (
	AttrOwnerID        = "ownerId"
	AttrStatus         = "status"
	AttrDeliveryUserID = "deliveryUserId"
)

// ErrForbidden is returned by Authorize when no rule allows the request.
var ErrForbidden = errors.New("policy: forbidden")

//go:embed rules.yaml
var defaultRules []byte

// Attributes describe the resource instance and the caller.
type Attributes map[string]string

// Decision is the outcome of an evaluation. Rule names the matching rule when allowed.
type Decision struct {
	Allowed bool
	Rule    string
}

// Condition restricts a rule to resources whose attribute matches.
type Condition struct {
	Attr          string   `yaml:"attr"`
	In            []string `yaml:"in"`
	EqualsSubject bool     `yaml:"equalsSubject"`
}

// Rule grants actions on resource types to a role.
type Rule struct {
	Name       string      `yaml:"name"`
	Role       string      `yaml:"role"`
	Actions    []string    `yaml:"actions"`
	Resources  []string    `yaml:"resources"`
	Conditions []Condition `yaml:"conditions"`
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// Engine holds a parsed rule table. It is safe for concurrent use.
type Engine struct {
	rules []Rule
}

// Default parses the embedded rule table.
func Default() (*Engine, error) {
	return Load(defaultRules)
}

// Load parses a YAML rule table.
func Load(data []byte) (*Engine, error) {
	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("policy: parse rules: %w", err)
	}
	if len(file.Rules) == 0 {
		return nil, errors.New("policy: rule table is empty")
	}
	for i, rule := range file.Rules {
		if strings.TrimSpace(rule.Role) == "" || len(rule.Actions) == 0 || len(rule.Resources) == 0 {
			return nil, fmt.Errorf("policy: rule %d (%s) requires role, actions and resources", i, rule.Name)
		}
		for _, cond := range rule.Conditions {
			if strings.TrimSpace(cond.Attr) == "" {
				return nil, fmt.Errorf("policy: rule %d (%s) has a condition without attr", i, rule.Name)
			}
			if len(cond.In) == 0 && !cond.EqualsSubject {
				return nil, fmt.Errorf("policy: rule %d (%s) condition on %s matches nothing", i, rule.Name, cond.Attr)
			}
		}
	}
	return &Engine{rules: file.Rules}, nil
}

// Evaluate decides whether role may perform action on resourceType given attrs.
func (e *Engine) Evaluate(role string, action string, resourceType string, attrs Attributes) Decision {
	if e == nil {
		return Decision{}
	}
	role = strings.ToUpper(strings.TrimSpace(role))
	for _, rule := range e.rules {
		if rule.Role != role {
			continue
		}
		if !slices.Contains(rule.Resources, resourceType) {
			continue
		}
		if !slices.Contains(rule.Actions, action) && !slices.Contains(rule.Actions, ActionManage) {
			continue
		}
		if conditionsHold(rule.Conditions, attrs) {
			return Decision{Allowed: true, Rule: rule.Name}
		}
	}
	return Decision{}
}

// Authorize evaluates each role and returns ErrForbidden when none is allowed.
func (e *Engine) Authorize(roles []string, action string, resourceType string, attrs Attributes) error {
	for _, role := range roles {
		if e.Evaluate(role, action, resourceType, attrs).Allowed {
			return nil
		}
	}
	return fmt.Errorf("%w: %s %s", ErrForbidden, action, resourceType)
}

func conditionsHold(conditions []Condition, attrs Attributes) bool {
	for _, cond := range conditions {
		value, ok := attrs[cond.Attr]
		if !ok {
			return false
		}
		if cond.EqualsSubject {
			subject := attrs[AttrSubjectID]
			if subject == "" || value != subject {
				return false
			}
		}
		if len(cond.In) > 0 && !slices.Contains(cond.In, value) {
			return false
		}
	}
	return true
}
