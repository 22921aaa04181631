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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandLineRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		exe  string
		home string
	}{
		{
			name: "plain paths",
			exe:  `/opt/routemesh/routemesh-service`,
			home: `/var/lib/routemesh`,
		},
		{
			name: "spaces in both halves",
			exe:  `C:\Program Files\RouteMesh\routemesh-service.exe`,
			home: `C:\Users\Route Operator\.routemesh`,
		},
		{
			name: "space only in executable",
			exe:  `/opt/route mesh/routemesh-service`,
			home: `/var/lib/routemesh`,
		},
		{
			name: "space only in home",
			exe:  `/opt/routemesh/routemesh-service`,
			home: `/home/route operator/.routemesh`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := Registration{ExecutablePath: tt.exe, HomeDir: tt.home}
			encoded := EncodeCommandLine(tt.exe, reg.LaunchArguments())

			exe, args, err := DecodeCommandLine(encoded)
			require.NoError(t, err)
			assert.Equal(t, tt.exe, exe, "executable path must round-trip exactly")
			assert.Equal(t, reg.LaunchArguments(), args, "launch arguments must round-trip exactly")

			home, err := HomeFromArguments(args)
			require.NoError(t, err)
			assert.Equal(t, tt.home, home, "home directory must round-trip exactly")

			// Re-encoding the decoded halves reproduces the stored line.
			assert.Equal(t, encoded, EncodeCommandLine(exe, args))
		})
	}
}

func TestEncodeCommandLine_Quoting(t *testing.T) {
	got := EncodeCommandLine(`C:\Program Files\rm.exe`, []string{SentinelFlag, HomeFlag, `C:\data dir`})
	want := `"C:\Program Files\rm.exe" --service-host --home "C:\data dir"`
	assert.Equal(t, want, got)
}

func TestDecodeCommandLine_UnquotedExecutableWithSpaces(t *testing.T) {
	// Registrations written by other tools may leave a spaced path unquoted;
	// everything before the sentinel belongs to the executable.
	exe, args, err := DecodeCommandLine(`C:\Program Files\rm.exe --service-host --home C:\data`)
	require.NoError(t, err)
	assert.Equal(t, `C:\Program Files\rm.exe`, exe)
	assert.Equal(t, []string{SentinelFlag, HomeFlag, `C:\data`}, args)
}

func TestDecodeCommandLine_Errors(t *testing.T) {
	tests := []struct {
		name    string
		cmdline string
	}{
		{"no sentinel", `/opt/routemesh/routemesh-service --home /var/lib`},
		{"sentinel first", `--service-host --home /var/lib`},
		{"unterminated quote", `"/opt/route mesh/svc --service-host --home /x`},
		{"empty", ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DecodeCommandLine(tt.cmdline)
			assert.Error(t, err)
		})
	}
}

func TestHomeFromArguments_Missing(t *testing.T) {
	_, err := HomeFromArguments([]string{SentinelFlag})
	assert.Error(t, err)

	_, err = HomeFromArguments([]string{SentinelFlag, HomeFlag})
	assert.Error(t, err, "trailing --home without a value")
}
