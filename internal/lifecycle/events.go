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

package lifecycle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Event is one appended record in the lifecycle diagnostic log.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"` // "install", "start", "stop", ...
	PID       int       `json:"pid,omitempty"`
	Success   bool      `json:"success"`
	Message   string    `json:"message,omitempty"`
	StartType string    `json:"start_type,omitempty"`
	Dir       string    `json:"dir,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Recorder appends lifecycle events to a JSON-lines log file. A nil Recorder
// discards everything, so callers never have to guard their calls.
type Recorder struct {
	logPath string
}

// NewRecorder creates a recorder writing to logPath.
func NewRecorder(logPath string) *Recorder {
	return &Recorder{logPath: logPath}
}

// Success records a successful operation.
func (r *Recorder) Success(event, message string) {
	r.write(Event{
		Timestamp: time.Now(),
		Event:     event,
		PID:       os.Getpid(),
		Success:   true,
		Message:   message,
	})
}

// Failure records a failed operation with its error.
func (r *Recorder) Failure(event string, err error) {
	e := Event{
		Timestamp: time.Now(),
		Event:     event,
		PID:       os.Getpid(),
		Success:   false,
	}
	if err != nil {
		e.Error = err.Error()
	}
	r.write(e)
}

// Record appends an arbitrary event, filling in timestamp and PID if unset.
func (r *Recorder) Record(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.PID == 0 {
		e.PID = os.Getpid()
	}
	r.write(e)
}

// write appends the event. Diagnostics must never fail the operation they
// describe, so errors are swallowed after a best-effort attempt.
func (r *Recorder) write(e Event) {
	if r == nil || r.logPath == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(r.logPath), 0700); err != nil {
		return
	}
	f, err := os.OpenFile(r.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return
	}
	defer f.Close()

	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	fmt.Fprintf(f, "%s\n", data)
}
