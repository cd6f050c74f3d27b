package facebook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"crosspost/domain/failure"
	"crosspost/domain/model"
	"crosspost/domain/platform"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	method string
	path   string
	form   url.Values
}

func graphServer(t *testing.T, respond func(c call) (int, string)) (*httptest.Server, *[]call) {
	t.Helper()
	var (
		mu    sync.Mutex
		calls []call
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		form, _ := url.ParseQuery(string(body))
		c := call{method: r.Method, path: r.URL.Path, form: form}
		mu.Lock()
		calls = append(calls, c)
		mu.Unlock()
		status, resp := respond(c)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(resp))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func credential() *model.OAuth2Credential {
	return &model.OAuth2Credential{AccountID: "acct-1", Platform: Name, AccessToken: "page-token", Raw: json.RawMessage(`{"page_id":"page-9"}`)}
}

func TestPublish_TextWithLink(t *testing.T) {
	srv, calls := graphServer(t, func(call) (int, string) { return 200, `{"id":"page-9_1"}` })
	task := &model.PublishTask{ID: "t", Title: "Hello", Description: "World", Options: json.RawMessage(`{"link":"https://example.com"}`)}

	res, err := NewClient(srv.URL, srv.Client()).Publish(context.Background(), &platform.PublishRequest{Task: task, Credential: credential()})
	require.NoError(t, err)
	assert.Equal(t, "page-9_1", res.ExternalID)
	assert.Equal(t, "https://www.facebook.com/page-9_1", res.ExternalLink)

	require.Len(t, *calls, 1)
	c := (*calls)[0]
	assert.Equal(t, "/page-9/feed", c.path)
	assert.Equal(t, "Hello\n\nWorld", c.form.Get("message"))
	assert.Equal(t, "https://example.com", c.form.Get("link"))
	assert.Equal(t, "page-token", c.form.Get("access_token"))
}

func TestPublish_SinglePhoto(t *testing.T) {
	srv, calls := graphServer(t, func(call) (int, string) { return 200, `{"id":"photo-1","post_id":"page-9_2"}` })
	task := &model.PublishTask{ID: "t", Description: "caption", Media: []model.MediaItem{{Kind: model.MediaImage, URL: "https://cdn.example.com/a.jpg"}}}

	res, err := NewClient(srv.URL, nil).Publish(context.Background(), &platform.PublishRequest{Task: task, Credential: credential()})
	require.NoError(t, err)
	assert.Equal(t, "page-9_2", res.ExternalID)
	c := (*calls)[0]
	assert.Equal(t, "/page-9/photos", c.path)
	assert.Equal(t, "https://cdn.example.com/a.jpg", c.form.Get("url"))
	assert.Equal(t, "true", c.form.Get("published"))
}

func TestPublish_MultiPhotoAttachesUnpublishedUploads(t *testing.T) {
	n := 0
	srv, calls := graphServer(t, func(c call) (int, string) {
		if c.path == "/page-9/photos" {
			n++
			return 200, `{"id":"ph-` + string(rune('0'+n)) + `"}`
		}
		return 200, `{"id":"page-9_3"}`
	})
	task := &model.PublishTask{ID: "t", Title: "Album", Media: []model.MediaItem{
		{Kind: model.MediaImage, URL: "https://cdn.example.com/1.jpg"},
		{Kind: model.MediaImage, URL: "https://cdn.example.com/2.jpg"},
	}}

	res, err := NewClient(srv.URL, nil).Publish(context.Background(), &platform.PublishRequest{Task: task, Credential: credential()})
	require.NoError(t, err)
	assert.Equal(t, "page-9_3", res.ExternalID)
	require.Len(t, *calls, 3)
	assert.Equal(t, "false", (*calls)[0].form.Get("published"))
	feed := (*calls)[2]
	assert.Equal(t, "/page-9/feed", feed.path)
	assert.Equal(t, `{"media_fbid":"ph-1"}`, feed.form.Get("attached_media[0]"))
	assert.Equal(t, `{"media_fbid":"ph-2"}`, feed.form.Get("attached_media[1]"))
}

func TestPublish_Video(t *testing.T) {
	srv, calls := graphServer(t, func(call) (int, string) { return 200, `{"id":"vid-1"}` })
	task := &model.PublishTask{ID: "t", Title: "Clip", Media: []model.MediaItem{{Kind: model.MediaVideo, URL: "https://cdn.example.com/v.mp4"}}}

	res, err := NewClient(srv.URL, nil).Publish(context.Background(), &platform.PublishRequest{Task: task, Credential: credential()})
	require.NoError(t, err)
	assert.Equal(t, "vid-1", res.ExternalID)
	assert.Equal(t, "/page-9/videos", (*calls)[0].path)
	assert.Equal(t, "https://cdn.example.com/v.mp4", (*calls)[0].form.Get("file_url"))
}

func TestPublish_Errors(t *testing.T) {
	srv, _ := graphServer(t, func(call) (int, string) {
		return 400, `{"error":{"message":"Error validating access token","type":"OAuthException","code":190}}`
	})
	c := NewClient(srv.URL, nil)

	_, err := c.Publish(context.Background(), &platform.PublishRequest{Task: &model.PublishTask{Title: "x"}, Credential: credential()})
	assert.Equal(t, failure.AuthInvalid, failure.CodeOf(err))

	_, err = c.Publish(context.Background(), &platform.PublishRequest{Task: &model.PublishTask{}, Credential: credential()})
	assert.Equal(t, failure.Validation, failure.CodeOf(err))

	_, err = c.Publish(context.Background(), &platform.PublishRequest{Task: &model.PublishTask{Title: "x", Options: json.RawMessage(`[`)}, Credential: credential()})
	assert.Equal(t, failure.Validation, failure.CodeOf(err))
}

func TestDeletePost(t *testing.T) {
	srv, calls := graphServer(t, func(call) (int, string) { return 200, `{"success":true}` })
	require.NoError(t, NewClient(srv.URL, nil).DeletePost(context.Background(), credential(), "page-9_1"))
	assert.Equal(t, http.MethodDelete, (*calls)[0].method)
	assert.Equal(t, "/page-9_1", (*calls)[0].path)
}
