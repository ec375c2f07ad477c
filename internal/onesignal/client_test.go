package onesignal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, status int, body string, seen *Notification) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/notifications", r.URL.Path)
		assert.Equal(t, "Basic secret", r.Header.Get("Authorization"))
		if seen != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSend_Success(t *testing.T) {
	var seen Notification
	srv := newServer(t, http.StatusOK, `{"id":"n-1","recipients":3}`, &seen)
	c := NewClient("app-1", "secret", WithBaseURL(srv.URL))

	res, err := c.Send(context.Background(), Notification{
		IncludePlayerIDs: []string{"p-1"},
		Headings:         map[string]string{"en": "Order shipped"},
		Contents:         map[string]string{"en": "On its way"},
		Data:             map[string]string{"orderId": "25164007"},
	})
	require.NoError(t, err)
	assert.Equal(t, "n-1", res.ID)
	assert.Equal(t, 3, res.Recipients)

	assert.Equal(t, "app-1", seen.AppID)
	assert.Equal(t, []string{"p-1"}, seen.IncludePlayerIDs)
	assert.Equal(t, "25164007", seen.Data["orderId"])
}

func TestSend_PartialErrors(t *testing.T) {
	srv := newServer(t, http.StatusOK, `{"id":"n-2","recipients":1,"errors":{"invalid_player_ids":["p-9"]}}`, nil)
	c := NewClient("app-1", "secret", WithBaseURL(srv.URL))

	res, err := c.Send(context.Background(), Notification{IncludePlayerIDs: []string{"p-1", "p-9"}})
	require.Error(t, err)
	var partial *PartialError
	require.True(t, errors.As(err, &partial))
	assert.Equal(t, "n-2", partial.Response.ID)
	assert.Equal(t, []string{"invalid_player_ids: p-9"}, partial.Response.Errors)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.Recipients)
}

func TestSend_AllRejected(t *testing.T) {
	srv := newServer(t, http.StatusOK, `{"id":"","recipients":0,"errors":["All included players are not subscribed"]}`, nil)
	c := NewClient("app-1", "secret", WithBaseURL(srv.URL))

	res, err := c.Send(context.Background(), Notification{IncludedSegments: []string{"Subscribed Users"}})
	assert.Nil(t, res)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, []string{"All included players are not subscribed"}, apiErr.Errors)
}

func TestSend_HTTPError(t *testing.T) {
	srv := newServer(t, http.StatusBadRequest, `{"errors":["app_id not found"]}`, nil)
	c := NewClient("app-1", "secret", WithBaseURL(srv.URL))

	_, err := c.Send(context.Background(), Notification{})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.Error(), "app_id not found")
}

func TestSend_TransportFailure(t *testing.T) {
	srv := newServer(t, http.StatusOK, `{}`, nil)
	srv.Close()
	c := NewClient("app-1", "secret", WithBaseURL(srv.URL))

	_, err := c.Send(context.Background(), Notification{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransport))
}

func TestDecodeErrors(t *testing.T) {
	assert.Nil(t, decodeErrors(nil))
	assert.Nil(t, decodeErrors(json.RawMessage(`null`)))
	assert.Equal(t, []string{"a", "b"}, decodeErrors(json.RawMessage(`["a","b"]`)))
	assert.Equal(t, []string{`"weird"`}, decodeErrors(json.RawMessage(`"weird"`)))
}
