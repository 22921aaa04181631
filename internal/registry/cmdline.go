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

package registry

import (
	"fmt"
	"strings"
)

// Some service managers store the executable path and launch arguments as a
// single escaped command line (Windows SCM's BinaryPathName, systemd's
// ExecStart). EncodeCommandLine and DecodeCommandLine are exact inverses of
// each other for any executable path and argument tokens, including ones
// containing spaces. Any change to the quoting rules is a compatibility
// break with registrations written by earlier releases.

// EncodeCommandLine renders an executable path and argument list as one
// command line, double-quoting any token that contains whitespace.
func EncodeCommandLine(exe string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, quoteToken(exe))
	for _, arg := range args {
		parts = append(parts, quoteToken(arg))
	}
	return strings.Join(parts, " ")
}

// DecodeCommandLine splits a stored command line back into the executable
// path and argument list. The service-host sentinel must appear as a
// standalone token; everything before it belongs to the executable path.
func DecodeCommandLine(cmdline string) (exe string, args []string, err error) {
	tokens, err := splitTokens(cmdline)
	if err != nil {
		return "", nil, err
	}

	sentinel := -1
	for i, tok := range tokens {
		if tok == SentinelFlag {
			sentinel = i
			break
		}
	}
	if sentinel < 1 {
		return "", nil, fmt.Errorf("command line %q carries no %s sentinel", cmdline, SentinelFlag)
	}

	// An unquoted executable path containing spaces tokenizes into several
	// pieces; everything before the sentinel is the path.
	exe = strings.Join(tokens[:sentinel], " ")
	return exe, tokens[sentinel:], nil
}

// quoteToken wraps a token in double quotes when it contains whitespace.
func quoteToken(tok string) string {
	if strings.ContainsAny(tok, " \t") {
		return `"` + tok + `"`
	}
	return tok
}

// splitTokens splits a command line on whitespace, honoring double quotes.
func splitTokens(cmdline string) ([]string, error) {
	var tokens []string
	var cur strings.Builder
	inQuote := false
	pending := false

	for _, r := range cmdline {
		switch {
		case r == '"':
			inQuote = !inQuote
			pending = true
		case (r == ' ' || r == '\t') && !inQuote:
			if pending {
				tokens = append(tokens, cur.String())
				cur.Reset()
				pending = false
			}
		default:
			cur.WriteRune(r)
			pending = true
		}
	}
	if inQuote {
		return nil, fmt.Errorf("command line %q has an unterminated quote", cmdline)
	}
	if pending {
		tokens = append(tokens, cur.String())
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("command line is empty")
	}
	return tokens, nil
}
