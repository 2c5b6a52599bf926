package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		err  *Error
		want int
	}{
		{Validation("bad"), http.StatusUnprocessableEntity},
		{Unauthenticated("who"), http.StatusUnauthorized},
		{Forbidden("no"), http.StatusForbidden},
		{NotFound("gone"), http.StatusNotFound},
		{TooManyRequests("slow"), http.StatusTooManyRequests},
		{Server("x", errors.New("y")), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.err.Status(), tc.err.Message)
	}
}

func TestFrom_ClassifiesUnknownAsServer(t *testing.T) {
	cause := errors.New("cassandra timeout")
	e := From(cause)

	assert.Equal(t, KindServer, e.Kind)
	assert.ErrorIs(t, e, cause)
}

func TestFrom_UnwrapsWrappedError(t *testing.T) {
	err := fmt.Errorf("edit: %w", Forbidden("Not authorized"))

	assert.True(t, Is(err, KindForbidden))
	assert.Equal(t, http.StatusForbidden, From(err).Status())
}
