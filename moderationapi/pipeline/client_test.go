package pipeline

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/marginalia-wiki/marginalia/moderationapi/api"
	"github.com/marginalia-wiki/marginalia/moderationapi/types"
)

func newTestServer(t *testing.T, status int, response string) (*Client, *[]string) {
	t.Helper()
	var bodies []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		bodies = append(bodies, string(body))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(server.Close)
	return NewClient(server.URL), &bodies
}

func TestSaveCarriesReplayOverrides(t *testing.T) {
	client, bodies := newTestServer(t, http.StatusOK, `{"outcome": "success", "revision_id": 42}`)

	submitted := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	approved := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	result, err := client.Save(context.Background(), api.SaveRequest{
		Target:       types.TargetRef{Namespace: 0, Title: "Garden gnomes"},
		Content:      "Lorem ipsum.",
		Summary:      "expand intro",
		BaseRevision: 41,
		Author:       types.UserRef{ID: 7, Name: "Alice"},
		Overrides: api.SaveOverrides{
			Timestamp:     submitted,
			IP:            "198.51.100.7",
			ForwardedFor:  "203.0.113.5",
			UserAgent:     "Mozilla/5.0 (test)",
			Tags:          []string{"mobile edit"},
			FeedTimestamp: approved,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, api.SaveSuccess, result.Outcome)
	assert.EqualValues(t, 42, result.RevisionID)

	require.Len(t, *bodies, 1)
	sent := gjson.Parse((*bodies)[0])
	assert.Equal(t, "Garden gnomes", sent.Get("target.title").String())
	assert.Equal(t, "Lorem ipsum.", sent.Get("content").String())
	assert.EqualValues(t, 41, sent.Get("base_revision").Int())
	assert.Equal(t, "Alice", sent.Get("author.name").String())
	assert.Equal(t, "198.51.100.7", sent.Get("overrides.ip").String())
	assert.Equal(t, "2026-08-01T12:00:00Z", sent.Get("overrides.timestamp").String())
	assert.Equal(t, "2026-08-20T09:00:00Z", sent.Get("overrides.feed_timestamp").String())
	assert.Equal(t, "mobile edit", sent.Get("overrides.tags.0").String())
}

func TestSaveWithoutOverridesOmitsThem(t *testing.T) {
	client, bodies := newTestServer(t, http.StatusOK, `{"outcome": "success", "revision_id": 43}`)

	_, err := client.Save(context.Background(), api.SaveRequest{
		Target:  types.TargetRef{Title: "Garden gnomes"},
		Content: "resolved",
		Author:  types.UserRef{ID: 2, Name: "Admin"},
	})
	require.NoError(t, err)

	sent := gjson.Parse((*bodies)[0])
	assert.False(t, sent.Get("overrides").Exists(), "a direct save must not impersonate anyone")
}

func TestSaveOutcomes(t *testing.T) {
	tests := []struct {
		response string
		want     api.SaveOutcome
	}{
		{`{"outcome": "conflict"}`, api.SaveConflict},
		{`{"outcome": "nochange"}`, api.SaveNoChange},
	}
	for _, tc := range tests {
		client, _ := newTestServer(t, http.StatusOK, tc.response)
		result, err := client.Save(context.Background(), api.SaveRequest{
			Target: types.TargetRef{Title: "Garden gnomes"},
		})
		require.NoError(t, err)
		assert.Equal(t, tc.want, result.Outcome)
	}
}

func TestSaveErrors(t *testing.T) {
	client, _ := newTestServer(t, http.StatusOK, `{"outcome": "sideways"}`)
	_, err := client.Save(context.Background(), api.SaveRequest{})
	assert.ErrorContains(t, err, "unknown outcome")

	client, _ = newTestServer(t, http.StatusBadGateway, `{"error": "upstream sad"}`)
	_, err = client.Save(context.Background(), api.SaveRequest{})
	assert.ErrorContains(t, err, "upstream sad")
}

func TestMoveRequest(t *testing.T) {
	client, bodies := newTestServer(t, http.StatusOK, `{"outcome": "success", "revision_id": 44}`)

	_, err := client.Move(context.Background(), api.MoveRequest{
		From:    types.TargetRef{Title: "Garden gnomes"},
		To:      types.TargetRef{Title: "Lawn gnomes"},
		Summary: "more common name",
		Author:  types.UserRef{ID: 7, Name: "Alice"},
	})
	require.NoError(t, err)

	sent := gjson.Parse((*bodies)[0])
	assert.Equal(t, "Garden gnomes", sent.Get("from.title").String())
	assert.Equal(t, "Lawn gnomes", sent.Get("to.title").String())
}

func TestResolveUser(t *testing.T) {
	client, bodies := newTestServer(t, http.StatusOK, `{"id": 7, "name": "Alice the Elder"}`)

	resolved, err := client.ResolveUser(context.Background(), types.UserRef{ID: 7, Name: "Alice"})
	require.NoError(t, err)
	assert.Equal(t, types.UserRef{ID: 7, Name: "Alice the Elder"}, resolved)

	require.Len(t, *bodies, 1)
	sent := gjson.Parse((*bodies)[0])
	assert.EqualValues(t, 7, sent.Get("id").Int())
	assert.Equal(t, "Alice", sent.Get("name").String())
}

func TestResolveUserError(t *testing.T) {
	client, _ := newTestServer(t, http.StatusNotFound, `{"error": "no such user"}`)
	_, err := client.ResolveUser(context.Background(), types.UserRef{ID: 99, Name: "Ghost"})
	assert.ErrorContains(t, err, "no such user")
}

func TestDisabledPipeline(t *testing.T) {
	var p Disabled
	_, err := p.Save(context.Background(), api.SaveRequest{})
	assert.Error(t, err)
	_, err = p.Move(context.Background(), api.MoveRequest{})
	assert.Error(t, err)
	_, err = p.Upload(context.Background(), api.UploadRequest{})
	assert.Error(t, err)
}
