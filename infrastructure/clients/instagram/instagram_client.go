package instagram

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"crosspost/domain/failure"
	"crosspost/domain/model"
	"crosspost/domain/platform"
	"crosspost/infrastructure/clients/meta"
	"crosspost/infrastructure/logger"
)

const Name = "instagram"

// Container status codes reported by the content publishing API.
const (
	statusFinished   = "FINISHED"
	statusInProgress = "IN_PROGRESS"
	statusPublished  = "PUBLISHED"
	statusError      = "ERROR"
	statusExpired    = "EXPIRED"
)

const maxCarouselItems = 10

type containerParams struct {
	ImageURL       string `url:"image_url,omitempty"`
	VideoURL       string `url:"video_url,omitempty"`
	CoverURL       string `url:"cover_url,omitempty"`
	MediaType      string `url:"media_type,omitempty"`
	Caption        string `url:"caption,omitempty"`
	IsCarouselItem bool   `url:"is_carousel_item,omitempty"`
	Children       string `url:"children,omitempty"`
}

type publishParams struct {
	CreationID string `url:"creation_id"`
}

type fieldsParams struct {
	Fields string `url:"fields"`
}

type idResponse struct {
	ID string `json:"id"`
}

// Client publishes through the two-phase container flow: every media item
// becomes a container while staging, Publish groups them and Finalize waits
// for processing before calling media_publish.
type Client struct {
	graph *meta.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{graph: meta.NewClient(baseURL, Name, httpClient)}
}

var (
	_ platform.Adapter   = (*Client)(nil)
	_ platform.Stager    = (*Client)(nil)
	_ platform.Finalizer = (*Client)(nil)
)

func (c *Client) Name() string { return Name }

func (c *Client) Capabilities() platform.Capabilities {
	return platform.Capabilities{RequiresContainer: true, AsyncFinalize: true}
}

func userID(cred *model.OAuth2Credential) string {
	if id := cred.RawString("ig_user_id"); id != "" {
		return id
	}
	return cred.AccountID
}

func (c *Client) StageMedia(ctx context.Context, task *model.PublishTask, cred *model.OAuth2Credential, index int, item model.MediaItem) (*platform.StageResult, error) {
	if len(task.Media) > maxCarouselItems {
		return nil, failure.New(failure.Validation, Name, "a carousel holds at most 10 items")
	}
	carousel := len(task.Media) > 1
	p := containerParams{IsCarouselItem: carousel}
	switch item.Kind {
	case model.MediaVideo:
		p.VideoURL = item.URL
		p.CoverURL = item.CoverURL
		p.MediaType = "REELS"
		if carousel {
			p.MediaType = "VIDEO"
		}
	default:
		p.ImageURL = item.URL
	}
	if !carousel {
		p.Caption = caption(task)
	}

	var out idResponse
	if err := c.graph.Post(ctx, userID(cred)+"/media", cred.AccessToken, p, nil, &out); err != nil {
		return nil, err
	}
	return &platform.StageResult{Status: model.StagingContainerCreated, ContainerID: out.ID}, nil
}

// Publish returns the container to finalize. Carousels get a parent
// container referencing the staged children.
func (c *Client) Publish(ctx context.Context, req *platform.PublishRequest) (*model.PublishResult, error) {
	if len(req.Staged) == 0 {
		return nil, failure.New(failure.Validation, Name, "instagram posts need at least one image or video")
	}
	children := make([]string, 0, len(req.Staged))
	for _, s := range req.Staged {
		if !s.Reusable() {
			return nil, failure.New(failure.Validation, Name, "media was not staged")
		}
		children = append(children, s.ContainerID)
	}
	if len(children) == 1 {
		return &model.PublishResult{Async: true, FinalizeRef: children[0]}, nil
	}

	var out idResponse
	err := c.graph.Post(ctx, userID(req.Credential)+"/media", req.Credential.AccessToken, containerParams{
		MediaType: "CAROUSEL",
		Caption:   caption(req.Task),
		Children:  strings.Join(children, ","),
	}, nil, &out)
	if err != nil {
		return nil, err
	}
	return &model.PublishResult{Async: true, FinalizeRef: out.ID}, nil
}

func (c *Client) Finalize(ctx context.Context, req *platform.FinalizeRequest) (*model.PublishResult, error) {
	token := req.Credential.AccessToken
	var status struct {
		StatusCode string `json:"status_code"`
		Status     string `json:"status"`
	}
	if err := c.graph.Get(ctx, url.PathEscape(req.Ref), token, fieldsParams{Fields: "status_code,status"}, &status); err != nil {
		return nil, err
	}
	switch status.StatusCode {
	case statusInProgress:
		return &model.PublishResult{Pending: true}, nil
	case statusError, statusExpired:
		msg := "media processing failed"
		if status.Status != "" {
			msg += ": " + status.Status
		}
		return nil, failure.New(failure.Validation, Name, msg)
	case statusFinished, statusPublished:
	default:
		logger.GetLogger().WithField("container", req.Ref).WithField("status_code", status.StatusCode).Warn("unexpected container status")
		return &model.PublishResult{Pending: true}, nil
	}

	var published idResponse
	if err := c.graph.Post(ctx, userID(req.Credential)+"/media_publish", token, publishParams{CreationID: req.Ref}, nil, &published); err != nil {
		return nil, err
	}
	result := &model.PublishResult{ExternalID: published.ID}

	var media struct {
		Permalink string `json:"permalink"`
	}
	if err := c.graph.Get(ctx, url.PathEscape(published.ID), token, fieldsParams{Fields: "permalink"}, &media); err != nil {
		// The post is live; a missing permalink only costs the link.
		logger.GetLogger().WithField("media_id", published.ID).WithField("error", err).Warn("permalink lookup failed")
	}
	result.ExternalLink = media.Permalink
	return result, nil
}

func caption(task *model.PublishTask) string {
	parts := make([]string, 0, 2)
	for _, s := range []string{task.Title, task.Description} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}
