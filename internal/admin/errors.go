package admin

import "errors"

var (
	ErrPolicyBadFormatted     = errors.New("Policy bad formatted!")
	ErrPolicyAlreadyExists    = errors.New("Policy already exists!")
	ErrPolicyNotFound         = errors.New("Policy not found!")
	ErrPolicyListPageNotFound = errors.New("Policy page not found!")
)
