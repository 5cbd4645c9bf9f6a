package model

import "errors"

var (
	// ErrNotFound is returned when a referenced location, condition or batch does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNoInventory is returned when an allocation run finds no inventory record.
	ErrNoInventory = errors.New("no inventory")
	// ErrInventoryConflict is returned when the inventory changed between snapshot and commit.
	ErrInventoryConflict = errors.New("inventory changed during allocation")
	// ErrOracleUnavailable is returned when the road graph cannot resolve a node or a path.
	ErrOracleUnavailable = errors.New("road graph oracle unavailable")
	// ErrInvalidInput is returned for inputs rejected before any computation.
	ErrInvalidInput = errors.New("invalid input")
)
