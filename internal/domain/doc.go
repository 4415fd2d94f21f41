// Package domain contains the error taxonomy shared by the durable store and
// the delivery reliability layer.
//
// It has no dependencies on infrastructure concerns and exists so that both
// subsystems and their callers agree on sentinel errors checkable with
// errors.Is.
package domain
