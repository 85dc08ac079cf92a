// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package auth

// MetricsRecorder receives one observation per completed use case. The
// operation label names the use case ("register", "login", ...) and result is
// either "success" or "failure".
type MetricsRecorder func(operation, result string)

func noopMetrics(string, string) {}

// WithMetrics installs a recorder that is invoked once per operation. A nil
// recorder restores the no-op default. Returns the service for chaining.
func (s *Service) WithMetrics(record MetricsRecorder) *Service {
	if record == nil {
		record = noopMetrics
	}
	s.metrics = record
	return s
}

// WithMetrics installs a recorder that is invoked once per operation. A nil
// recorder restores the no-op default. Returns the service for chaining.
func (s *PasswordResetService) WithMetrics(record MetricsRecorder) *PasswordResetService {
	if record == nil {
		record = noopMetrics
	}
	s.metrics = record
	return s
}

func operationResult(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
