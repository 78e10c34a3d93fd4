// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateFlags(t *testing.T) {
	require.NoError(t, validateFlags(true, false, ""))
	require.NoError(t, validateFlags(true, true, ""))
	require.NoError(t, validateFlags(false, false, ""))
	require.NoError(t, validateFlags(false, true, "~/runs/trained_model"))
	require.ErrorContains(t, validateFlags(false, true, ""), "-checkpoint")
}
