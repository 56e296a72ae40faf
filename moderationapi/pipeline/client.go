// Package pipeline drives the platform's internal content API: the
// normal save path that approved changes are replayed through.
package pipeline

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/marginalia-wiki/marginalia/moderationapi/api"
	"github.com/marginalia-wiki/marginalia/moderationapi/types"
)

// Client implements api.SavePipeline against the platform's internal
// HTTP content API.
type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Save(ctx context.Context, req api.SaveRequest) (api.SaveResult, error) {
	body, _ := sjson.Set("{}", "target.namespace", req.Target.Namespace)
	body, _ = sjson.Set(body, "target.title", req.Target.Title)
	body, _ = sjson.Set(body, "content", req.Content)
	body, _ = sjson.Set(body, "summary", req.Summary)
	body, _ = sjson.Set(body, "base_revision", req.BaseRevision)
	body, _ = sjson.Set(body, "minor", req.MinorEdit)
	body, _ = sjson.Set(body, "bot", req.BotEdit)
	body = withIdentity(body, req.Author, req.Overrides)
	return c.post(ctx, "/save", body)
}

func (c *Client) Move(ctx context.Context, req api.MoveRequest) (api.SaveResult, error) {
	body, _ := sjson.Set("{}", "from.namespace", req.From.Namespace)
	body, _ = sjson.Set(body, "from.title", req.From.Title)
	body, _ = sjson.Set(body, "to.namespace", req.To.Namespace)
	body, _ = sjson.Set(body, "to.title", req.To.Title)
	body, _ = sjson.Set(body, "summary", req.Summary)
	body = withIdentity(body, req.Author, req.Overrides)
	return c.post(ctx, "/move", body)
}

func (c *Client) Upload(ctx context.Context, req api.UploadRequest) (api.SaveResult, error) {
	body, _ := sjson.Set("{}", "target.namespace", req.Target.Namespace)
	body, _ = sjson.Set(body, "target.title", req.Target.Title)
	body, _ = sjson.Set(body, "stash_key", req.StashKey)
	body, _ = sjson.Set(body, "content", req.Content)
	body, _ = sjson.Set(body, "summary", req.Summary)
	body = withIdentity(body, req.Author, req.Overrides)
	return c.post(ctx, "/upload", body)
}

// ResolveUser asks the platform for the author's current identity, so a
// rename or deletion since the change was queued is honoured at
// approval time. It implements api.UserResolver.
func (c *Client) ResolveUser(ctx context.Context, ref types.UserRef) (types.UserRef, error) {
	body, _ := sjson.Set("{}", "id", ref.ID)
	body, _ = sjson.Set(body, "name", ref.Name)

	httpReq, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.baseURL+"/users/resolve", bytes.NewBufferString(body),
	)
	if err != nil {
		return types.UserRef{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(httpReq)
	if err != nil {
		return types.UserRef{}, errors.Wrap(err, "resolving user against platform API")
	}
	defer res.Body.Close() // nolint:errcheck

	resBody, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return types.UserRef{}, err
	}
	if res.StatusCode != http.StatusOK {
		return types.UserRef{}, errors.Errorf(
			"platform user API returned %d: %s", res.StatusCode, gjson.GetBytes(resBody, "error").String(),
		)
	}

	parsed := gjson.ParseBytes(resBody)
	return types.UserRef{
		ID:   parsed.Get("id").Int(),
		Name: parsed.Get("name").String(),
	}, nil
}

// withIdentity attaches the acting user and the replay overrides. Zero
// overrides are omitted so a merge save looks like any direct edit.
func withIdentity(body string, author types.UserRef, o api.SaveOverrides) string {
	body, _ = sjson.Set(body, "author.id", author.ID)
	body, _ = sjson.Set(body, "author.name", author.Name)
	if !o.Timestamp.IsZero() {
		body, _ = sjson.Set(body, "overrides.timestamp", o.Timestamp.Format(time.RFC3339))
		body, _ = sjson.Set(body, "overrides.ip", o.IP)
		body, _ = sjson.Set(body, "overrides.forwarded_for", o.ForwardedFor)
		body, _ = sjson.Set(body, "overrides.user_agent", o.UserAgent)
		body, _ = sjson.Set(body, "overrides.feed_timestamp", o.FeedTimestamp.Format(time.RFC3339))
		for _, tag := range o.Tags {
			body, _ = sjson.Set(body, "overrides.tags.-1", tag)
		}
	}
	return body
}

func (c *Client) post(ctx context.Context, path, body string) (api.SaveResult, error) {
	httpReq, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.baseURL+path, bytes.NewBufferString(body),
	)
	if err != nil {
		return api.SaveResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(httpReq)
	if err != nil {
		return api.SaveResult{}, errors.Wrap(err, "calling platform content API")
	}
	defer res.Body.Close() // nolint:errcheck

	resBody, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return api.SaveResult{}, err
	}
	if res.StatusCode != http.StatusOK {
		return api.SaveResult{}, errors.Errorf(
			"platform content API %s returned %d: %s", path, res.StatusCode, gjson.GetBytes(resBody, "error").String(),
		)
	}

	parsed := gjson.ParseBytes(resBody)
	switch outcome := parsed.Get("outcome").String(); outcome {
	case "success":
		return api.SaveResult{
			Outcome:    api.SaveSuccess,
			RevisionID: parsed.Get("revision_id").Int(),
		}, nil
	case "conflict":
		return api.SaveResult{Outcome: api.SaveConflict}, nil
	case "nochange":
		return api.SaveResult{Outcome: api.SaveNoChange}, nil
	default:
		return api.SaveResult{}, errors.Errorf("platform content API returned unknown outcome %q", outcome)
	}
}

// Disabled is the pipeline used when no platform URL is configured.
// Submissions still queue; every replay fails loudly.
type Disabled struct{}

func (Disabled) Save(ctx context.Context, req api.SaveRequest) (api.SaveResult, error) {
	return api.SaveResult{}, errors.New("no platform content API configured")
}

func (Disabled) Move(ctx context.Context, req api.MoveRequest) (api.SaveResult, error) {
	return api.SaveResult{}, errors.New("no platform content API configured")
}

func (Disabled) Upload(ctx context.Context, req api.UploadRequest) (api.SaveResult, error) {
	return api.SaveResult{}, errors.New("no platform content API configured")
}
