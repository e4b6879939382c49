package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"

	oerrors "github.com/opmodel/hcp/internal/errors"
)

func TestExitCodeFromError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{name: "nil error returns success", err: nil, wantCode: ExitSuccess},
		{name: "validation error", err: oerrors.ErrValidation, wantCode: ExitValidationError},
		{name: "wrapped validation error", err: oerrors.Wrap(oerrors.ErrValidation, "bad addr"), wantCode: ExitValidationError},
		{name: "connectivity error", err: fmt.Errorf("%w: GET x: refused", oerrors.ErrConnectivity), wantCode: ExitConnectivityError},
		{name: "permission error", err: oerrors.ErrPermission, wantCode: ExitPermissionDenied},
		{name: "os permission error", err: &fs.PathError{Op: "open", Path: "/x", Err: fs.ErrPermission}, wantCode: ExitPermissionDenied},
		{name: "not found error", err: oerrors.NewNotFoundError("no such version", "", ""), wantCode: ExitNotFound},
		{name: "verification error", err: oerrors.Wrap(oerrors.ErrVerification, "hash mismatch"), wantCode: ExitVerificationError},
		{name: "manifest error", err: oerrors.ErrManifest, wantCode: ExitVerificationError},
		{name: "filesystem error", err: oerrors.ErrFilesystem, wantCode: ExitGeneralError},
		{name: "unknown error", err: errors.New("boom"), wantCode: ExitGeneralError},
		{name: "exit error wins", err: fmt.Errorf("outer: %w", NewExitError(oerrors.ErrValidation, ExitNotFound)), wantCode: ExitNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantCode, ExitCodeFromError(tt.err))
		})
	}
}

func TestExitError(t *testing.T) {
	inner := errors.New("inner")
	err := NewExitError(inner, ExitNotFound)

	assert.Equal(t, "inner", err.Error())
	assert.ErrorIs(t, err, inner)
	assert.False(t, err.Printed)
}

func TestExitCodeName(t *testing.T) {
	assert.Equal(t, "Success", ExitCodeName(ExitSuccess))
	assert.Equal(t, "Verification Error", ExitCodeName(ExitVerificationError))
	assert.Equal(t, "Unknown", ExitCodeName(42))
}
