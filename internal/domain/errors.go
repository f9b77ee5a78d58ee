package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrSigningFailed = errors.New("signing failed")
	ErrLockHeld      = errors.New("lock already held")

	ErrInvalidPrice        = errors.New("invalid price")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrPositionTooLarge    = errors.New("position size exceeds maximum")
	ErrMarketUnresolved    = errors.New("market identifier unresolved")
	ErrTokenUnresolved     = errors.New("outcome token id unresolved")
	ErrOwnerUnresolved     = errors.New("owner id unresolved")
	ErrOwnerMismatch       = errors.New("profile id does not match order owner")
	ErrTradingDisabled     = errors.New("venue does not support live trading")
	ErrInvalidTransition   = errors.New("invalid trade status transition")
	ErrBadResponse         = errors.New("unexpected venue response")
	ErrDuplicateIntent     = errors.New("duplicate trade intent")
)
