/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package errs

import (
	"errors"
	"strings"
	"testing"
)

func TestMeshErrorBasic(t *testing.T) {
	err := UnknownKey()

	if err.Code != CodeUnknownKey {
		t.Errorf("Code = %d, want %d", err.Code, CodeUnknownKey)
	}
	if err.Category != CategoryAuthDenied {
		t.Errorf("Category = %s, want %s", err.Category, CategoryAuthDenied)
	}
	if !strings.Contains(err.Error(), "unknown identity") {
		t.Errorf("Error() = %q, want it to contain 'unknown identity'", err.Error())
	}
}

func TestMeshErrorWithDetail(t *testing.T) {
	err := StaleWrite("unit:alpha", "hasFuel").WithDetail("superseded by newer clock")
	if err.Detail != "superseded by newer clock" {
		t.Errorf("Detail = %q, want 'superseded by newer clock'", err.Detail)
	}
	if !strings.Contains(err.Error(), "superseded by newer clock") {
		t.Errorf("Error() = %q, want it to contain the detail", err.Error())
	}
}

func TestMeshErrorWithHint(t *testing.T) {
	err := MissingIdentityKey("/keys/private/alpha.json")
	userMsg := err.UserMessage()
	if !strings.Contains(userMsg, "HINT:") {
		t.Errorf("UserMessage() = %q, want it to contain HINT:", userMsg)
	}
	if !strings.Contains(userMsg, "meshkeygen") {
		t.Errorf("UserMessage() = %q, want it to mention meshkeygen", userMsg)
	}
}

func TestMeshErrorWithCause(t *testing.T) {
	cause := errors.New("unexpected EOF")
	err := MalformedEnvelope(cause)
	if err.Unwrap() != cause {
		t.Error("Unwrap() did not return the wrapped cause")
	}
}

func TestConstructorsByCategory(t *testing.T) {
	tests := []struct {
		name     string
		err      *MeshError
		code     Code
		category Category
	}{
		{"MissingIdentityKey", MissingIdentityKey("x"), CodeMissingIdentityKey, CategoryFatalBoot},
		{"LaneBindFailed", LaneBindFailed("FLASH", ":9001", errors.New("addr in use")), CodeLaneBindFailed, CategoryFatalBoot},
		{"UnknownKey", UnknownKey(), CodeUnknownKey, CategoryAuthDenied},
		{"RevokedKey", RevokedKey(), CodeRevokedKey, CategoryAuthDenied},
		{"LaneFull", LaneFull("FLASH", "Bravo"), CodeLaneFull, CategoryBackpressureDrop},
		{"StaleWrite", StaleWrite("s", "p"), CodeStaleWrite, CategoryStaleWrite},
		{"MalformedEnvelope", MalformedEnvelope(nil), CodeMalformedEnvelope, CategoryDecodeError},
		{"AntiEntropyTimeout", AntiEntropyTimeout("Charlie"), CodeAntiEntropyTimeout, CategoryPeerTimeout},
		{"BlobCorrupted", BlobCorrupted("unit:alpha|hasFuel", nil), CodeBlobCorrupted, CategoryStorageCorruption},
		{"ContextTornDown", ContextTornDown(), CodeContextTornDown, CategoryTransportTerminated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Code = %d, want %d", tt.err.Code, tt.code)
			}
			if tt.err.Category != tt.category {
				t.Errorf("Category = %s, want %s", tt.err.Category, tt.category)
			}
		})
	}
}

func TestCategoryPredicates(t *testing.T) {
	auth := UnknownKey()
	stale := StaleWrite("s", "p")

	if !IsAuthDenied(auth) {
		t.Error("IsAuthDenied(auth) = false, want true")
	}
	if IsAuthDenied(stale) {
		t.Error("IsAuthDenied(stale) = true, want false")
	}
	if !IsStaleWrite(stale) {
		t.Error("IsStaleWrite(stale) = false, want true")
	}
}

func TestGetCode(t *testing.T) {
	err := AntiEntropyTimeout("Delta")
	if GetCode(err) != CodeAntiEntropyTimeout {
		t.Errorf("GetCode = %d, want %d", GetCode(err), CodeAntiEntropyTimeout)
	}

	regular := errors.New("plain error")
	if GetCode(regular) != 0 {
		t.Errorf("GetCode(plain error) = %d, want 0", GetCode(regular))
	}
}

func TestFormatError(t *testing.T) {
	err := RevokedKey()
	formatted := FormatError(err)
	if !strings.HasPrefix(formatted, "ERROR:") {
		t.Errorf("FormatError = %q, want prefix 'ERROR:'", formatted)
	}

	regular := errors.New("plain error")
	formatted = FormatError(regular)
	if !strings.Contains(formatted, "plain error") {
		t.Errorf("FormatError(plain) = %q, want it to contain 'plain error'", formatted)
	}
}
