package jwt

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"taxi-tracking/internal/domain/user"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParseDriverToken(t *testing.T) {
	mgr := NewManager("secret", time.Hour)

	tok, claims, err := mgr.IssueDriverToken("42", "ABC123")
	require.NoError(t, err)
	assert.Equal(t, user.RoleDriver, claims.Role)
	assert.Equal(t, "ABC123", claims.Plate)

	_, parsed, err := mgr.ParseAndValidate(tok)
	require.NoError(t, err)
	assert.Equal(t, "42", parsed.Subject)
	assert.Equal(t, "ABC123", parsed.Plate)
}

func TestParseRejectsForeignSecret(t *testing.T) {
	tok, _, err := NewManager("one", time.Hour).IssueDriverToken("42", "ABC123")
	require.NoError(t, err)

	_, _, err = NewManager("two", time.Hour).ParseAndValidate(tok)
	assert.Error(t, err)
}

func TestValidateTaxiAuth(t *testing.T) {
	mgr := NewManager("secret", time.Hour)
	driverTok, _, err := mgr.IssueDriverToken("42", "ABC123")
	require.NoError(t, err)
	adminTok, _, err := mgr.IssueUserToken("1", user.RoleAdmin)
	require.NoError(t, err)

	tests := []struct {
		name     string
		token    string
		driverID string
		plate    string
		wantErr  error
	}{
		{name: "valid", token: driverTok, driverID: "42", plate: "ABC123"},
		{name: "bearer prefix", token: "Bearer " + driverTok, driverID: "42", plate: "abc123"},
		{name: "missing token", token: "", driverID: "42", plate: "ABC123", wantErr: ErrTokenRequired},
		{name: "other driver", token: driverTok, driverID: "43", plate: "ABC123", wantErr: ErrDriverMismatch},
		{name: "other plate", token: driverTok, driverID: "42", plate: "XYZ999", wantErr: ErrPlateMismatch},
		{name: "admin token", token: adminTok, driverID: "1", plate: "ABC123", wantErr: ErrRoleForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateTaxiAuth(mgr, tt.token, tt.driverID, tt.plate)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidateTaxiAuthWithoutManager(t *testing.T) {
	claims, err := ValidateTaxiAuth(nil, "", "42", "ABC123")
	assert.NoError(t, err)
	assert.Nil(t, claims)
}

func TestAuthMiddleware(t *testing.T) {
	mgr := NewManager("secret", time.Hour)
	adminTok, _, _ := mgr.IssueUserToken("1", user.RoleAdmin)
	driverTok, _, _ := mgr.IssueDriverToken("42", "ABC123")

	var seen *Claims
	h := AuthMiddlewareFunc(mgr, user.RoleAdmin)(func(w http.ResponseWriter, r *http.Request) {
		seen = RequireClaims(r)
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "no header", want: http.StatusUnauthorized},
		{name: "bad scheme", header: "Basic abc", want: http.StatusUnauthorized},
		{name: "wrong role", header: "Bearer " + driverTok, want: http.StatusForbidden},
		{name: "admin", header: "Bearer " + adminTok, want: http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/reservations/r1/pickup", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
	require.NotNil(t, seen)
	assert.Equal(t, "1", seen.Subject)
}
