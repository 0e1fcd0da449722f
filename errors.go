/*
Copyright © 2024 the tfgen authors.
This file is part of tfgen.

tfgen is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

tfgen is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with tfgen.  If not, see <http://www.gnu.org/licenses/>.
*/

package tfgen

import (
	"errors"
	"fmt"
)

// ConfigurationError is returned when the sweep is misconfigured, for
// example when a grid axis is empty or the time-step parameters are
// inconsistent. Configuration errors are fatal at startup.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("tfgen: configuration: %v", e.Err)
	}
	return fmt.Sprintf("tfgen: configuration: %s: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func configErrorf(field, format string, args ...interface{}) error {
	return &ConfigurationError{Field: field, Err: fmt.Errorf(format, args...)}
}

// SolverInvocationError is returned when a solver call fails, times out or
// returns values that cannot be tabulated. It aborts only the current cell.
type SolverInvocationError struct {
	Cell            CellKey
	InjectionEnergy float64
	Err             error
}

func (e *SolverInvocationError) Error() string {
	return fmt.Sprintf("tfgen: solver call for %v at injection energy %.3e eV: %v",
		e.Cell, e.InjectionEnergy, e.Err)
}

func (e *SolverInvocationError) Unwrap() error { return e.Err }

// IOError is returned when a finished table cannot be persisted after all
// retries have been used.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("tfgen: writing %s: %v", e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// errorClass returns the taxonomy name of err for reporting.
func errorClass(err error) string {
	var (
		ce *ConfigurationError
		se *SolverInvocationError
		ie *IOError
	)
	switch {
	case errors.As(err, &ce):
		return "ConfigurationError"
	case errors.As(err, &se):
		return "SolverInvocationError"
	case errors.As(err, &ie):
		return "IOError"
	default:
		return "Error"
	}
}
