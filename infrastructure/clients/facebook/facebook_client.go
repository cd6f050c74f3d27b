package facebook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"crosspost/domain/failure"
	"crosspost/domain/model"
	"crosspost/domain/platform"
	"crosspost/infrastructure/clients/meta"
)

const Name = "facebook"

// Options are the facebook specific fields of PublishTask.Options.
type Options struct {
	Link string `json:"link,omitempty"`
}

type feedParams struct {
	Message string `url:"message,omitempty"`
	Link    string `url:"link,omitempty"`
}

type photoParams struct {
	URL       string `url:"url"`
	Caption   string `url:"caption,omitempty"`
	Published bool   `url:"published"`
}

type videoParams struct {
	FileURL     string `url:"file_url"`
	Title       string `url:"title,omitempty"`
	Description string `url:"description,omitempty"`
}

type postResponse struct {
	ID     string `json:"id"`
	PostID string `json:"post_id"`
}

// Client publishes to a Facebook page. The page is taken from the
// credential's raw page_id, falling back to the account id.
type Client struct {
	graph *meta.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{graph: meta.NewClient(baseURL, Name, httpClient)}
}

var (
	_ platform.Adapter = (*Client)(nil)
	_ platform.Deleter = (*Client)(nil)
)

func (c *Client) Name() string { return Name }

func (c *Client) Capabilities() platform.Capabilities {
	return platform.Capabilities{CanDelete: true}
}

func (c *Client) Publish(ctx context.Context, req *platform.PublishRequest) (*model.PublishResult, error) {
	task, cred := req.Task, req.Credential
	pageID := cred.RawString("page_id")
	if pageID == "" {
		pageID = cred.AccountID
	}
	var opts Options
	if len(task.Options) > 0 {
		if err := json.Unmarshal(task.Options, &opts); err != nil {
			return nil, failure.New(failure.Validation, Name, "invalid facebook options: "+err.Error())
		}
	}
	message := composeMessage(task)

	var (
		out postResponse
		err error
	)
	switch {
	case task.HasVideo():
		if len(task.Media) > 1 {
			return nil, failure.New(failure.Validation, Name, "a facebook video post carries exactly one video")
		}
		err = c.graph.Post(ctx, pageID+"/videos", cred.AccessToken,
			videoParams{FileURL: task.Media[0].URL, Title: task.Title, Description: task.Description}, nil, &out)
	case len(task.Media) == 1:
		err = c.graph.Post(ctx, pageID+"/photos", cred.AccessToken,
			photoParams{URL: task.Media[0].URL, Caption: message, Published: true}, nil, &out)
	case len(task.Media) > 1:
		var attached url.Values
		attached, err = c.uploadUnpublished(ctx, pageID, cred.AccessToken, task.Media)
		if err == nil {
			err = c.graph.Post(ctx, pageID+"/feed", cred.AccessToken, feedParams{Message: message}, attached, &out)
		}
	default:
		if message == "" && opts.Link == "" {
			return nil, failure.New(failure.Validation, Name, "post has no content")
		}
		err = c.graph.Post(ctx, pageID+"/feed", cred.AccessToken, feedParams{Message: message, Link: opts.Link}, nil, &out)
	}
	if err != nil {
		return nil, err
	}

	id := out.PostID
	if id == "" {
		id = out.ID
	}
	return &model.PublishResult{ExternalID: id, ExternalLink: "https://www.facebook.com/" + id}, nil
}

// uploadUnpublished uploads photos without publishing them so one feed post can attach them all.
func (c *Client) uploadUnpublished(ctx context.Context, pageID, token string, media []model.MediaItem) (url.Values, error) {
	attached := url.Values{}
	for i, m := range media {
		var out postResponse
		if err := c.graph.Post(ctx, pageID+"/photos", token, photoParams{URL: m.URL, Published: false}, nil, &out); err != nil {
			return nil, err
		}
		attached.Set(fmt.Sprintf("attached_media[%d]", i), fmt.Sprintf(`{"media_fbid":%q}`, out.ID))
	}
	return attached, nil
}

func (c *Client) DeletePost(ctx context.Context, cred *model.OAuth2Credential, externalID string) error {
	return c.graph.Delete(ctx, externalID, cred.AccessToken)
}

func composeMessage(task *model.PublishTask) string {
	parts := make([]string, 0, 2)
	for _, s := range []string{task.Title, task.Description} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}
