package captcha

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVerifyPostsChallenge(t *testing.T) {
	var gotSecret, gotResponse, gotRemoteIP string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotSecret = r.PostFormValue("secret")
		gotResponse = r.PostFormValue("response")
		gotRemoteIP = r.PostFormValue("remoteip")
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	v := NewTurnstileVerifier("shh", srv.URL, srv.Client())
	ok, err := v.Verify(context.Background(), "challenge-token", "203.0.113.9")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "shh", gotSecret)
	require.Equal(t, "challenge-token", gotResponse)
	require.Equal(t, "203.0.113.9", gotRemoteIP)
}

func TestVerifyReportsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"error-codes":["invalid-input-response"]}`))
	}))
	defer srv.Close()

	v := NewTurnstileVerifier("shh", srv.URL, srv.Client())
	ok, err := v.Verify(context.Background(), "bad-token", "")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyErrorsOnBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	v := NewTurnstileVerifier("shh", srv.URL, srv.Client())
	_, err := v.Verify(context.Background(), "token", "")
	require.Error(t, err)
}

func TestVerifyDisabledWithoutSecret(t *testing.T) {
	v := NewTurnstileVerifier("", "http://unused.invalid", nil)
	require.False(t, v.Enabled())

	ok, err := v.Verify(context.Background(), "anything", "")
	require.NoError(t, err)
	require.True(t, ok)
}
