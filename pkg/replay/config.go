// Copyright 2023 The Authors (see AUTHORS file)
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package replay

import (
	"fmt"
	"time"
)

// Config holds the worker's tunables. Defaults and validation rules are
// spec.md §4.3's "Defaults"/"Validation" paragraph.
type Config struct {
	PollInterval    time.Duration
	MaxAttempts     int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	Multiplier      float64
	JitterFactor    float64
	// ShutdownGrace bounds how long the worker waits for an in-flight
	// command to finish once a shutdown signal arrives.
	ShutdownGrace time.Duration
}

// DefaultConfig returns the spec-mandated defaults.
func DefaultConfig() *Config {
	return &Config{
		PollInterval:   1 * time.Second,
		MaxAttempts:    5,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     300 * time.Second,
		Multiplier:     2.0,
		JitterFactor:   0.1,
		ShutdownGrace:  30 * time.Second,
	}
}

// Validate rejects the configurations spec.md §4.3 calls out by name.
func (c *Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1, got %d", c.MaxAttempts)
	}
	if c.Multiplier <= 1.0 {
		return fmt.Errorf("multiplier must be > 1.0, got %f", c.Multiplier)
	}
	if c.JitterFactor < 0 || c.JitterFactor > 1 {
		return fmt.Errorf("jitter_factor must be in [0,1], got %f", c.JitterFactor)
	}
	if c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("max_backoff (%s) must be >= initial_backoff (%s)", c.MaxBackoff, c.InitialBackoff)
	}
	return nil
}
