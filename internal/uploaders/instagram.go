package uploaders

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"shorts-publisher/internal/logging"
	"shorts-publisher/internal/retry"
)

// Processing states reported for an Instagram media container.
const (
	statusFinished = "FINISHED"
	statusError    = "ERROR"
	statusUnknown  = "UNKNOWN"
)

// InstagramUploader crossposts Reels to the Instagram Business Account
// linked to the Facebook Page, using the resumable container protocol.
type InstagramUploader struct {
	graph        *graphClient
	pageID       string
	pollInterval time.Duration
	pollAttempts int
	log          *logging.Logger

	// accountID is set by DiscoverAccount or by the caller.
	accountID string
}

type pageAccountResponse struct {
	InstagramBusinessAccount *struct {
		ID string `json:"id"`
	} `json:"instagram_business_account"`
}

// igContainer is the server-side placeholder created before publishing.
type igContainer struct {
	ID  string `json:"id"`
	URI string `json:"uri"`
}

type igPublishResponse struct {
	ID string `json:"id"`
}

type igStatusResponse struct {
	StatusCode string `json:"status_code"`
	Status     string `json:"status"`
}

type igPermalinkResponse struct {
	Permalink string `json:"permalink"`
	Shortcode string `json:"shortcode"`
}

func newInstagramUploader(graph *graphClient, pageID string, pollInterval time.Duration, pollAttempts int, log *logging.Logger) *InstagramUploader {
	return &InstagramUploader{
		graph:        graph,
		pageID:       pageID,
		pollInterval: pollInterval,
		pollAttempts: pollAttempts,
		log:          log,
	}
}

// Platform returns the platform name
func (i *InstagramUploader) Platform() Target {
	return Instagram
}

// DiscoverAccount looks up the Instagram Business Account linked to the
// Page. A missing link, or any failure to find out, reports false.
func (i *InstagramUploader) DiscoverAccount(ctx context.Context) (string, bool) {
	var page pageAccountResponse
	params := url.Values{"fields": {"instagram_business_account"}}
	if _, err := i.graph.get(ctx, Instagram, "discover", i.graph.url(i.pageID), params, &page); err != nil {
		i.log.Warnf("instagram: could not get linked account: %s", Redact(err.Error(), i.graph.token))
		return "", false
	}
	if page.InstagramBusinessAccount == nil || page.InstagramBusinessAccount.ID == "" {
		return "", false
	}
	return page.InstagramBusinessAccount.ID, true
}

// WithAccount returns a copy bound to the given Instagram user id.
func (i *InstagramUploader) WithAccount(accountID string) *InstagramUploader {
	c := *i
	c.accountID = accountID
	return &c
}

// Upload uploads a video to Instagram Reels
func (i *InstagramUploader) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	if i.accountID == "" {
		err := &ConfigurationError{Field: "instagram account", Reason: "no linked Instagram Business Account"}
		return failed(Instagram, err.Error()), err
	}
	i.log.Infof("instagram: uploading reel to account %s", i.accountID)

	// Step 1: create a resumable container
	var container igContainer
	create := url.Values{
		"media_type":    {"REELS"},
		"upload_type":   {"resumable"},
		"caption":       {req.Description},
		"share_to_feed": {"true"},
	}
	if _, err := i.graph.postForm(ctx, Instagram, "session-init", i.graph.url(i.accountID, "media"), create, &container); err != nil {
		return failed(Instagram, err.Error()), err
	}
	var missing []string
	if container.URI == "" {
		missing = append(missing, "uri")
	}
	if container.ID == "" {
		missing = append(missing, "id")
	}
	if len(missing) > 0 {
		err := &ProtocolError{Platform: Instagram, Phase: "session-init", Missing: missing}
		return failed(Instagram, err.Error()), err
	}
	i.log.Infof("instagram: upload session initialized: %s", container.ID)

	pollCtx := ctx
	ctx = context.WithoutCancel(ctx)

	// Step 2: transfer bytes
	headers := http.Header{"Content-Type": {"application/octet-stream"}}
	if err := i.graph.transfer(ctx, Instagram, container.URI, req.VideoPath, headers); err != nil {
		return failed(Instagram, err.Error()), err
	}

	// Step 3: publish
	var published igPublishResponse
	raw, err := i.graph.postForm(ctx, Instagram, "publish", i.graph.url(i.accountID, "media_publish"),
		url.Values{"creation_id": {container.ID}}, &published)
	if err != nil {
		err = &PublishError{Platform: Instagram, Err: err}
		return failed(Instagram, err.Error()), err
	}
	if published.ID == "" {
		err := &ProtocolError{Platform: Instagram, Phase: "publish", Missing: []string{"id"}}
		return failed(Instagram, err.Error()), err
	}
	i.log.Infof("instagram: publish request sent: %s", published.ID)

	// Steps 4-5 never fail the result: the media is already published.
	processing := i.waitForProcessing(pollCtx, container.ID)

	permalink, ok := i.permalink(ctx, published.ID)
	if !ok {
		permalink = fmt.Sprintf("https://www.instagram.com/reel/%s/", published.ID)
	}

	return succeeded(Instagram, published.ID, permalink, map[string]string{
		"media_id":     published.ID,
		"container_id": container.ID,
		"processing":   processing,
	}, raw), nil
}

// waitForProcessing polls the container until it reports a terminal state,
// the attempts run out, or ctx is cancelled. It returns the last known state.
func (i *InstagramUploader) waitForProcessing(ctx context.Context, containerID string) string {
	last := statusUnknown
	params := url.Values{"fields": {"status_code,status"}}

	for attempt := 1; attempt <= i.pollAttempts; attempt++ {
		if err := retry.Sleep(ctx, i.pollInterval); err != nil {
			i.log.Warnf("instagram: processing poll cancelled after %d attempts, last status %s", attempt-1, last)
			return last
		}

		var status igStatusResponse
		if _, err := i.graph.get(ctx, Instagram, "status", i.graph.url(containerID), params, &status); err != nil {
			i.log.Warnf("instagram: status check %d failed: %s", attempt, Redact(err.Error(), i.graph.token))
			continue
		}
		if status.StatusCode != "" {
			last = status.StatusCode
		}

		switch status.StatusCode {
		case statusFinished:
			i.log.Infof("instagram: processing FINISHED")
			return last
		case statusError:
			i.log.Errorf("instagram: processing ERROR: %s", status.Status)
			return last
		}
		i.log.Debugf("instagram: status %s (attempt %d/%d)", status.StatusCode, attempt, i.pollAttempts)
	}

	i.log.Warnf("instagram: %v after %d attempts, last status %s", ErrProcessingTimeout, i.pollAttempts, last)
	return last
}

// permalink fetches the public URL of a published media. Any failure is
// reported as false.
func (i *InstagramUploader) permalink(ctx context.Context, mediaID string) (string, bool) {
	var media igPermalinkResponse
	params := url.Values{"fields": {"permalink,shortcode"}}
	if _, err := i.graph.get(ctx, Instagram, "permalink", i.graph.url(mediaID), params, &media); err != nil {
		i.log.Warnf("instagram: could not fetch permalink: %s", Redact(err.Error(), i.graph.token))
		return "", false
	}
	if media.Permalink == "" {
		return "", false
	}
	i.log.Infof("instagram: permalink %s", media.Permalink)
	return media.Permalink, true
}
