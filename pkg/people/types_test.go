package people

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterNormalize(t *testing.T) {
	tests := []struct {
		name      string
		in        Filter
		wantLimit int
		wantSkip  int
	}{
		{"defaults", Filter{}, DefaultLimit, 0},
		{"keeps valid limit", Filter{Limit: 25, Skip: 5}, 25, 5},
		{"caps limit", Filter{Limit: 1000}, MaxLimit, 0},
		{"negative skip", Filter{Limit: 1, Skip: -4}, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.Normalize()
			assert.Equal(t, tt.wantLimit, got.Limit)
			assert.Equal(t, tt.wantSkip, got.Skip)
		})
	}
}

func TestFilterScopedTo(t *testing.T) {
	f := Filter{Where: Where{TenantID: "other", Email: "a@x.com"}}
	scoped := f.ScopedTo("T1")

	assert.Equal(t, "T1", scoped.Where.TenantID)
	assert.Equal(t, "a@x.com", scoped.Where.Email)
	assert.Equal(t, "other", f.Where.TenantID, "original filter must not change")
}

func TestRegistrationDisplayName(t *testing.T) {
	assert.Equal(t, "A B", Registration{FirstName: "A", LastName: "B"}.DisplayName())
	assert.Equal(t, "A", Registration{FirstName: "A"}.DisplayName())
}

func TestStatusValid(t *testing.T) {
	assert.True(t, StatusActive.Valid())
	assert.True(t, StatusSigned.Valid())
	assert.True(t, StatusCompleted.Valid())
	assert.False(t, Status("PENDING").Valid())
}

func TestKindForProviderStatus(t *testing.T) {
	tests := []struct {
		status int
		want   Kind
	}{
		{http.StatusBadRequest, KindBadRequest},
		{http.StatusUnauthorized, KindUnauthorized},
		{http.StatusForbidden, KindForbidden},
		{http.StatusNotFound, KindNotFound},
		{http.StatusConflict, KindConflict},
		{http.StatusUnprocessableEntity, KindUnprocessable},
		{http.StatusInternalServerError, KindUpstream},
		{http.StatusTeapot, KindUpstream},
		{0, KindUpstream},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status %d", tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, KindForProviderStatus(tt.status))
		})
	}
}

func TestFromProvisioningError(t *testing.T) {
	t.Run("mapped status is kept", func(t *testing.T) {
		pe := &IdentityProvisioningError{Status: http.StatusConflict, Message: "User exists with same username"}
		err := FromProvisioningError(pe)

		assert.Equal(t, KindConflict, err.Kind)
		assert.Equal(t, http.StatusConflict, err.Status)
		assert.Equal(t, "User exists with same username", err.Message)

		var unwrapped *IdentityProvisioningError
		require.True(t, errors.As(err, &unwrapped))
		assert.Same(t, pe, unwrapped)
	})

	t.Run("unmapped status becomes upstream", func(t *testing.T) {
		err := FromProvisioningError(&IdentityProvisioningError{Status: http.StatusServiceUnavailable, Message: "down"})

		assert.Equal(t, KindUpstream, err.Kind)
		assert.Equal(t, http.StatusBadGateway, err.Status)
		assert.Equal(t, "down", err.Message)
	})
}

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", NewNotFoundError("gone"))
	assert.Equal(t, KindNotFound, KindOf(wrapped))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}
