package datastore

import (
	"github.com/tphakala/magtest/internal/errors"
)

// ErrNotFound is wrapped by every lookup miss
var ErrNotFound = errors.NewStd("record not found")

func dbError(operation string, err error) error {
	return errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", operation).
		Build()
}

func notFound(entity, id string) error {
	return errors.New(ErrNotFound).
		Component("datastore").
		Category(errors.CategoryNotFound).
		Context("entity", entity).
		Context("id", id).
		Build()
}

func validationError(operation, message string) error {
	return errors.Newf("%s", message).
		Component("datastore").
		Category(errors.CategoryValidation).
		Context("operation", operation).
		Build()
}
