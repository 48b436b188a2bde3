package rules

import "errors"

// Repository errors.
var (
	ErrRuleNotFound = errors.New("alert rule not found")
)
