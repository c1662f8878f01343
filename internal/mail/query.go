package mail

import (
	"fmt"
	"strings"

	"github.com/szabogaliakos/email-insights-sub001/pkg/models"
)

// QueryBuilder constructs mail API search query strings from rule
// criteria. All methods are pure functions with no side effects.
// Zero value is ready to use.
type QueryBuilder struct{}

// BuildRuleQuery returns the search query for a label-application rule.
// Criteria combine with AND, matching the rule's own semantics: a message
// must satisfy every set field.
func (b QueryBuilder) BuildRuleQuery(c models.RuleCriteria) string {
	var parts []string

	if c.From != "" {
		parts = append(parts, fmt.Sprintf("from:%s", quoteTerm(c.From)))
	}
	if c.To != "" {
		parts = append(parts, fmt.Sprintf("to:%s", quoteTerm(c.To)))
	}
	if c.Subject != "" {
		parts = append(parts, fmt.Sprintf("subject:%s", quoteTerm(c.Subject)))
	}
	if c.Query != "" {
		parts = append(parts, c.Query)
	}

	return strings.Join(parts, " ")
}

// quoteTerm wraps terms containing whitespace in double quotes so they
// stay a single operand.
func quoteTerm(term string) string {
	if strings.ContainsAny(term, " \t") {
		return `"` + strings.ReplaceAll(term, `"`, "") + `"`
	}
	return term
}
