// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package google

// BuildContents exposes buildContents for white-box testing.
var BuildContents = buildContents

// TranslateError exposes translateError for white-box testing.
var TranslateError = translateError
