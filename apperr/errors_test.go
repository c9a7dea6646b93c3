package apperr

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{fmt.Errorf("accept: %w", ErrAlreadyAccepted), http.StatusConflict},
		{ErrInvalidCode, http.StatusBadRequest},
		{ErrExpired, http.StatusGone},
		{fmt.Errorf("wrapped: %w", ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("plain"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, HTTPStatus(tc.err), "%v", tc.err)
	}
}

func TestCodeRoundTrip(t *testing.T) {
	for _, err := range []error{ErrInvalid, ErrInvalidCode, ErrUnauthorized, ErrForbidden, ErrNotFound, ErrAlreadyAccepted, ErrConflict, ErrExpired} {
		require.ErrorIs(t, FromCode(Code(err), HTTPStatus(err)), err)
	}
}

func TestFromCode_FallsBackToStatus(t *testing.T) {
	require.ErrorIs(t, FromCode("", http.StatusConflict), ErrConflict)
	require.Nil(t, FromCode("", http.StatusTeapot))
}
