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

// Package version contains build information, injected at build time via
// -ldflags where possible and defaulting to "source" builds otherwise.
package version

import "fmt"

var (
	// Name is the name of the binary.
	Name = "hookrelay"

	// Version is the semver version, set via -ldflags.
	Version = "source"

	// Commit is the git commit sha, set via -ldflags.
	Commit = "unknown"

	// HumanVersion is the compiled version to display to users.
	HumanVersion = fmt.Sprintf("%s@%s (%s)", Name, Version, Commit)
)
