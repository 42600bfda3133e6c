package service

import (
	"github.com/IsaiahDupree/everreach/internal/domain"
)

// Account and entitlement lookups - use domain.ENOTFOUND
var (
	ErrAccountNotFound     = domain.Errorf(domain.ENOTFOUND, "", "Account not found")
	ErrEntitlementNotFound = domain.Errorf(domain.ENOTFOUND, "", "No entitlement computed for this user")
)

// Validation errors - use domain.EINVALID
var (
	ErrUnknownStore      = domain.Errorf(domain.EINVALID, "", "Unknown store")
	ErrUnknownTier       = domain.Errorf(domain.EINVALID, "", "Unknown tier")
	ErrInvalidUsage      = domain.Errorf(domain.EINVALID, "", "Usage minutes and sessions must not be negative")
	ErrMissingAccountRef = domain.Errorf(domain.EINVALID, "", "Store account reference is required")
)
