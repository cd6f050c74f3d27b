package instagram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"crosspost/domain/failure"
	"crosspost/domain/model"
	"crosspost/domain/platform"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func credential() *model.OAuth2Credential {
	return &model.OAuth2Credential{AccountID: "acct-1", Platform: Name, AccessToken: "tok", Raw: json.RawMessage(`{"ig_user_id":"1784"}`)}
}

func newServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, form url.Values)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		form, _ := url.ParseQuery(string(body))
		if r.Method == http.MethodGet {
			form = r.URL.Query()
		}
		handler(w, r, form)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestStageMedia_SingleImageCarriesCaption(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request, form url.Values) {
		assert.Equal(t, "/1784/media", r.URL.Path)
		assert.Equal(t, "https://cdn.example.com/a.jpg", form.Get("image_url"))
		assert.Equal(t, "Launch\n\nSpring drop", form.Get("caption"))
		assert.Empty(t, form.Get("is_carousel_item"))
		_, _ = w.Write([]byte(`{"id":"c-1"}`))
	})
	task := &model.PublishTask{Title: "Launch", Description: "Spring drop", Media: []model.MediaItem{{Kind: model.MediaImage, URL: "https://cdn.example.com/a.jpg"}}}

	res, err := NewClient(srv.URL, nil).StageMedia(context.Background(), task, credential(), 0, task.Media[0])
	require.NoError(t, err)
	assert.Equal(t, &platform.StageResult{Status: model.StagingContainerCreated, ContainerID: "c-1"}, res)
}

func TestStageMedia_CarouselVideoItem(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request, form url.Values) {
		assert.Equal(t, "VIDEO", form.Get("media_type"))
		assert.Equal(t, "true", form.Get("is_carousel_item"))
		assert.Empty(t, form.Get("caption"))
		_, _ = w.Write([]byte(`{"id":"c-2"}`))
	})
	task := &model.PublishTask{Title: "x", Media: []model.MediaItem{
		{Kind: model.MediaImage, URL: "https://cdn.example.com/a.jpg"},
		{Kind: model.MediaVideo, URL: "https://cdn.example.com/b.mp4"},
	}}

	res, err := NewClient(srv.URL, nil).StageMedia(context.Background(), task, credential(), 1, task.Media[1])
	require.NoError(t, err)
	assert.Equal(t, "c-2", res.ContainerID)
}

func TestPublish_SingleContainerIsFinalizedDirectly(t *testing.T) {
	res, err := NewClient("http://unused", nil).Publish(context.Background(), &platform.PublishRequest{
		Task:       &model.PublishTask{},
		Credential: credential(),
		Staged:     []*model.StagedMedia{{Status: model.StagingContainerCreated, ContainerID: "c-1"}},
	})
	require.NoError(t, err)
	assert.Equal(t, &model.PublishResult{Async: true, FinalizeRef: "c-1"}, res)
}

func TestPublish_CarouselCreatesParent(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request, form url.Values) {
		assert.Equal(t, "CAROUSEL", form.Get("media_type"))
		assert.Equal(t, "c-1,c-2", form.Get("children"))
		assert.Equal(t, "Album", form.Get("caption"))
		_, _ = w.Write([]byte(`{"id":"parent"}`))
	})
	res, err := NewClient(srv.URL, nil).Publish(context.Background(), &platform.PublishRequest{
		Task:       &model.PublishTask{Title: "Album"},
		Credential: credential(),
		Staged: []*model.StagedMedia{
			{Status: model.StagingContainerCreated, ContainerID: "c-1"},
			{Status: model.StagingContainerCreated, ContainerID: "c-2"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "parent", res.FinalizeRef)
	assert.True(t, res.Async)
}

func TestPublish_RequiresStagedMedia(t *testing.T) {
	_, err := NewClient("http://unused", nil).Publish(context.Background(), &platform.PublishRequest{Task: &model.PublishTask{}, Credential: credential()})
	assert.Equal(t, failure.Validation, failure.CodeOf(err))
}

func TestFinalize(t *testing.T) {
	tests := []struct {
		name        string
		statusCode  string
		wantPending bool
		wantCode    failure.Code
		wantID      string
	}{
		{name: "still processing", statusCode: "IN_PROGRESS", wantPending: true},
		{name: "finished", statusCode: "FINISHED", wantID: "1790"},
		{name: "processing error", statusCode: "ERROR", wantCode: failure.Validation},
		{name: "expired container", statusCode: "EXPIRED", wantCode: failure.Validation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			published := false
			srv := newServer(t, func(w http.ResponseWriter, r *http.Request, form url.Values) {
				switch {
				case r.Method == http.MethodGet && r.URL.Path == "/c-1":
					assert.Equal(t, "status_code,status", form.Get("fields"))
					_, _ = w.Write([]byte(`{"status_code":"` + tt.statusCode + `","status":"Error: unsupported codec"}`))
				case r.URL.Path == "/1784/media_publish":
					published = true
					assert.Equal(t, "c-1", form.Get("creation_id"))
					_, _ = w.Write([]byte(`{"id":"1790"}`))
				case r.URL.Path == "/1790":
					_, _ = w.Write([]byte(`{"permalink":"https://www.instagram.com/p/xyz/"}`))
				default:
					t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
				}
			})

			res, err := NewClient(srv.URL, nil).Finalize(context.Background(), &platform.FinalizeRequest{Ref: "c-1", Credential: credential(), Attempt: 1})
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, failure.CodeOf(err))
				assert.False(t, published)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPending, res.Pending)
			assert.Equal(t, tt.wantID, res.ExternalID)
			if tt.wantID != "" {
				assert.True(t, published)
				assert.Equal(t, "https://www.instagram.com/p/xyz/", res.ExternalLink)
			}
		})
	}
}
