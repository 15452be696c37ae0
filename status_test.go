package gemini

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestToGeneric(t *testing.T) {
	tests := []struct {
		Status  Status
		Generic int
	}{
		{StatusInput, 100},
		{StatusSensitiveInput, 101},
		{StatusSuccess, GenericOK},
		{StatusRedirect, 300},
		{StatusPermanentRedirect, 301},
		{StatusTemporaryFailure, GenericInternalError},
		{StatusServerUnavailable, GenericInternalError},
		{StatusCGIError, GenericInternalError},
		{StatusProxyError, GenericGatewayTimeout},
		{StatusSlowDown, GenericServiceUnavailable},
		{StatusPermanentFailure, GenericBadRequest},
		{StatusNotFound, GenericNotFound},
		{StatusGone, GenericBadRequest},
		{StatusBadRequest, GenericBadRequest},
		{StatusCertificateRequired, 600},
		{StatusCertificateNotValid, 602},
	}
	for _, test := range tests {
		require.Equal(t, test.Generic, ToGeneric(test.Status), "status %d", test.Status)
	}
}

func TestFromGeneric(t *testing.T) {
	tests := []struct {
		Generic int
		Status  Status
	}{
		{0, StatusSuccess},
		{31, StatusPermanentRedirect},
		{59, StatusBadRequest},
		{GenericOK, StatusSuccess},
		{204, StatusSuccess},
		{GenericBadRequest, StatusBadRequest},
		{GenericNotFound, StatusNotFound},
		{403, StatusPermanentFailure},
		{GenericInternalError, StatusTemporaryFailure},
		{GenericBadGateway, StatusProxyError},
		{GenericGatewayTimeout, StatusProxyError},
		{GenericServiceUnavailable, StatusSlowDown},
		{100, StatusInput},
		{302, StatusRedirect},
		{600, StatusCertificateRequired},
	}
	for _, test := range tests {
		require.Equal(t, test.Status, FromGeneric(test.Generic), "generic %d", test.Generic)
	}
}

func TestFromGenericInvalid(t *testing.T) {
	for _, code := range []int{5, 70, 99, 700, 999} {
		require.Panics(t, func() { FromGeneric(code) }, "generic %d", code)
	}
}

func TestStatusClassRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := Status(rapid.IntRange(10, 69).Draw(t, "status"))
		back := FromGeneric(ToGeneric(s))
		if back.Class() != s.Class() {
			t.Fatalf("%d -> %d -> %d changes class", s, ToGeneric(s), back)
		}
	})
}

func TestStatusClass(t *testing.T) {
	require.Equal(t, ClassInput, StatusSensitiveInput.Class())
	require.Equal(t, ClassSuccess, StatusSuccess.Class())
	require.Equal(t, ClassPermanentFailure, StatusBadRequest.Class())
	require.Equal(t, ClassClientCertificateRequired, StatusCertificateNotValid.Class())
	require.False(t, Status(9).Valid())
	require.False(t, Status(70).Valid())
	require.Equal(t, "Not found", StatusNotFound.Meta())
}
