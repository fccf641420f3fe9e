package entity

import (
	"errors"
	"fmt"
	"strings"
)

// 错误定义
var (
	ErrValidation              = errors.New("validation error")
	ErrBusinessRule            = errors.New("business rule violation")
	ErrCircularReference       = errors.New("circular reference")
	ErrNotFound                = errors.New("not found")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrConcurrencyConflict     = errors.New("concurrency conflict")
)

// Rule codes carried by BusinessRuleError.
const (
	RuleAggregateLocked    = "aggregate_locked"
	RuleCategoryNotAllowed = "category_not_allowed"
	RuleCategoryConflict   = "category_conflict"
	RuleDuplicateItem      = "duplicate_item"
	RuleHasChildren        = "has_children"
	RuleRootRemoval        = "root_removal"
	RuleIncompleteItems    = "incomplete_items"
	RuleProjectTerminal    = "project_terminal"
	RuleStatusKindMismatch = "status_kind_mismatch"
	RuleAlreadyLocked      = "already_locked"
	RuleNotLocked          = "not_locked"
	RuleBOMRootTaken       = "bom_root_taken"
	RuleVersionInactive    = "version_inactive"
	RuleDuplicateMember    = "duplicate_member"
)

// ValidationError 缺少必填字段或字段值非法
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// BusinessRuleError names the violated rule so callers can pick a remediation.
type BusinessRuleError struct {
	Rule    string
	Message string
}

func (e *BusinessRuleError) Error() string {
	return fmt.Sprintf("business rule %s: %s", e.Rule, e.Message)
}

func (e *BusinessRuleError) Unwrap() error { return ErrBusinessRule }

func NewBusinessRuleError(rule, format string, args ...interface{}) *BusinessRuleError {
	return &BusinessRuleError{Rule: rule, Message: fmt.Sprintf(format, args...)}
}

// CircularReferenceError carries the ancestor identities that close the cycle,
// ordered from the attempted parent up to the offending identity.
type CircularReferenceError struct {
	ItemID string
	Chain  []string
}

func (e *CircularReferenceError) Error() string {
	return fmt.Sprintf("circular reference: %s is already an ancestor (%s)", e.ItemID, strings.Join(e.Chain, " -> "))
}

func (e *CircularReferenceError) Unwrap() error { return ErrCircularReference }

// NotFoundError 引用的实体在聚合内不存在
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func NewNotFoundError(kind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

// InvalidStatusTransitionError lists the transitions that were allowed from Current.
type InvalidStatusTransitionError struct {
	Current string
	Target  string
	Allowed []string
}

func (e *InvalidStatusTransitionError) Error() string {
	allowed := "none"
	if len(e.Allowed) > 0 {
		allowed = strings.Join(e.Allowed, ", ")
	}
	return fmt.Sprintf("cannot change status from %s to %s (allowed: %s)", e.Current, e.Target, allowed)
}

func (e *InvalidStatusTransitionError) Unwrap() error { return ErrInvalidStatusTransition }

// IsRule reports whether err is a BusinessRuleError with the given rule code.
func IsRule(err error, rule string) bool {
	var ruleErr *BusinessRuleError
	if !errors.As(err, &ruleErr) {
		return false
	}
	return ruleErr.Rule == rule
}
