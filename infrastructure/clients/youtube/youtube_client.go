package youtube

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"crosspost/domain/failure"
	"crosspost/domain/model"
	"crosspost/domain/platform"
	"crosspost/infrastructure/logger"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

const Name = "youtube"

// TokenSaver persists a refreshed credential.
type TokenSaver interface {
	Save(ctx context.Context, cred *model.OAuth2Credential) error
}

// Options are the youtube specific fields of PublishTask.Options.
type Options struct {
	Privacy     string   `json:"privacy,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	CategoryID  string   `json:"category_id,omitempty"`
	MadeForKids bool     `json:"made_for_kids,omitempty"`
}

type Config struct {
	ClientID     string
	ClientSecret string
	// Endpoint and TokenURL override the Google defaults.
	Endpoint string
	TokenURL string
}

// Client uploads videos with the account's OAuth token, refreshing it when
// it expires and writing the refreshed token back through TokenSaver.
type Client struct {
	oauth      *oauth2.Config
	endpoint   string
	httpClient *http.Client
	saver      TokenSaver
}

func NewClient(cfg Config, saver TokenSaver, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	endpoint := google.Endpoint
	if cfg.TokenURL != "" {
		endpoint = oauth2.Endpoint{TokenURL: cfg.TokenURL, AuthStyle: oauth2.AuthStyleInParams}
	}
	return &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			Scopes:       []string{youtube.YoutubeUploadScope, youtube.YoutubeForceSslScope},
		},
		endpoint:   cfg.Endpoint,
		httpClient: httpClient,
		saver:      saver,
	}
}

var (
	_ platform.Adapter = (*Client)(nil)
	_ platform.Deleter = (*Client)(nil)
)

func (c *Client) Name() string { return Name }

func (c *Client) Capabilities() platform.Capabilities {
	return platform.Capabilities{CanDelete: true}
}

func (c *Client) service(ctx context.Context, cred *model.OAuth2Credential) (*youtube.Service, error) {
	token := &oauth2.Token{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       cred.ExpiresAt,
	}
	base := context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, c.httpClient)
	ts := &savingTokenSource{
		base:  oauth2.ReuseTokenSource(token, c.oauth.TokenSource(base, token)),
		cred:  *cred,
		saver: c.saver,
		last:  cred.AccessToken,
	}
	opts := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(base, ts))}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}
	svc, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, failure.Wrap(failure.ConfigurationError, Name, fmt.Errorf("create youtube service: %w", err))
	}
	return svc, nil
}

func (c *Client) Publish(ctx context.Context, req *platform.PublishRequest) (*model.PublishResult, error) {
	task := req.Task
	var video *model.MediaItem
	for i := range task.Media {
		if task.Media[i].Kind == model.MediaVideo {
			video = &task.Media[i]
			break
		}
	}
	if video == nil {
		return nil, failure.New(failure.Validation, Name, "youtube posts need a video")
	}
	if task.Title == "" {
		return nil, failure.New(failure.Validation, Name, "youtube videos need a title")
	}
	opts := Options{Privacy: "public"}
	if len(task.Options) > 0 {
		if err := json.Unmarshal(task.Options, &opts); err != nil {
			return nil, failure.New(failure.Validation, Name, "invalid youtube options: "+err.Error())
		}
	}

	svc, err := c.service(ctx, req.Credential)
	if err != nil {
		return nil, err
	}
	body, err := c.open(ctx, video.URL)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	upload := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       task.Title,
			Description: task.Description,
			Tags:        opts.Tags,
			CategoryId:  opts.CategoryID,
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus:           opts.Privacy,
			SelfDeclaredMadeForKids: opts.MadeForKids,
			ForceSendFields:         []string{"SelfDeclaredMadeForKids"},
		},
	}
	resp, err := svc.Videos.Insert([]string{"snippet", "status"}, upload).Media(body).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("upload video: %w", err)
	}

	if video.CoverURL != "" {
		c.setThumbnail(ctx, svc, resp.Id, video.CoverURL)
	}
	return &model.PublishResult{ExternalID: resp.Id, ExternalLink: "https://www.youtube.com/watch?v=" + resp.Id}, nil
}

// setThumbnail is best effort: the video is already live.
func (c *Client) setThumbnail(ctx context.Context, svc *youtube.Service, videoID, coverURL string) {
	cover, err := c.open(ctx, coverURL)
	if err == nil {
		defer cover.Close()
		_, err = svc.Thumbnails.Set(videoID).Media(cover).Context(ctx).Do()
	}
	if err != nil {
		logger.GetLogger().WithField("video_id", videoID).WithField("error", err).Warn("thumbnail not set")
	}
}

func (c *Client) open(ctx context.Context, mediaURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, failure.New(failure.Validation, Name, "invalid media url: "+err.Error())
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, failure.Wrap(failure.TransientNetwork, Name, err)
	}
	if resp.StatusCode/100 != 2 {
		resp.Body.Close()
		if resp.StatusCode >= 500 {
			return nil, failure.New(failure.TransientNetwork, Name, fmt.Sprintf("media store returned %d", resp.StatusCode))
		}
		return nil, failure.New(failure.Validation, Name, fmt.Sprintf("media url returned %d", resp.StatusCode))
	}
	return resp.Body, nil
}

func (c *Client) DeletePost(ctx context.Context, cred *model.OAuth2Credential, externalID string) error {
	svc, err := c.service(ctx, cred)
	if err != nil {
		return err
	}
	if err := svc.Videos.Delete(externalID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("delete video %s: %w", externalID, err)
	}
	return nil
}

// savingTokenSource writes every newly minted access token back to the credential store.
type savingTokenSource struct {
	base  oauth2.TokenSource
	saver TokenSaver

	mu   sync.Mutex
	cred model.OAuth2Credential
	last string
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken == s.last || s.saver == nil {
		return tok, nil
	}
	s.last = tok.AccessToken
	s.cred.AccessToken = tok.AccessToken
	s.cred.ExpiresAt = tok.Expiry
	if tok.RefreshToken != "" {
		s.cred.RefreshToken = tok.RefreshToken
	}
	refreshed := s.cred
	if err := s.saver.Save(context.Background(), &refreshed); err != nil {
		logger.GetLogger().WithField("account_id", s.cred.AccountID).WithField("error", err).Error("refreshed token not saved")
	} else {
		logger.GetLogger().WithField("account_id", s.cred.AccountID).WithField("expiry", tok.Expiry).Info("youtube token refreshed")
	}
	return tok, nil
}
