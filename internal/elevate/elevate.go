// Copyright 2025 The RouteMesh Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package elevate reports whether the current process runs with
// administrative rights. The result is recomputed on every call and never
// cached: the orchestrator reads it once per invocation and threads the
// value through its preconditions.
package elevate

import "errors"

// ErrElevationRequired indicates a mutating command was invoked without
// administrative rights. No partial work happens before this is raised.
var ErrElevationRequired = errors.New("administrative rights required, re-run elevated")

// Check reports whether the current process token carries administrative
// rights. It has no side effects beyond reading process-token information.
func Check() bool {
	return isElevated()
}
