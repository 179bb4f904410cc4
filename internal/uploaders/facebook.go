package uploaders

import (
	"context"
	"fmt"
	"net/url"

	"shorts-publisher/internal/logging"
)

// FacebookUploader publishes Reels to a Facebook Page through the
// start / transfer / finish protocol.
type FacebookUploader struct {
	graph  *graphClient
	pageID string
	log    *logging.Logger
}

// reelSession is the state of one start / transfer / finish run.
type reelSession struct {
	VideoID   string `json:"video_id"`
	UploadURL string `json:"upload_url"`
}

func newFacebookUploader(graph *graphClient, pageID string, log *logging.Logger) *FacebookUploader {
	return &FacebookUploader{graph: graph, pageID: pageID, log: log}
}

// Platform returns the platform name
func (f *FacebookUploader) Platform() Target {
	return Facebook
}

// Upload uploads a video to Facebook Reels
func (f *FacebookUploader) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	f.log.Infof("facebook: uploading reel %q", req.Title)
	endpoint := f.graph.url(f.pageID, "video_reels")

	// Step 1: start a session
	var session reelSession
	if _, err := f.graph.postForm(ctx, Facebook, "session-init", endpoint, url.Values{"upload_phase": {"start"}}, &session); err != nil {
		return failed(Facebook, err.Error()), err
	}
	var missing []string
	if session.VideoID == "" {
		missing = append(missing, "video_id")
	}
	if session.UploadURL == "" {
		missing = append(missing, "upload_url")
	}
	if len(missing) > 0 {
		err := &ProtocolError{Platform: Facebook, Phase: "session-init", Missing: missing}
		return failed(Facebook, err.Error()), err
	}
	f.log.Infof("facebook: upload session initialized: %s", session.VideoID)

	// A started transfer is carried through to publish even if the caller
	// cancels.
	ctx = context.WithoutCancel(ctx)

	// Step 2: transfer bytes
	if err := f.graph.transfer(ctx, Facebook, session.UploadURL, req.VideoPath, nil); err != nil {
		return failed(Facebook, err.Error()), err
	}

	// Step 3: finish and publish
	finish := url.Values{
		"upload_phase": {"finish"},
		"video_id":     {session.VideoID},
		"title":        {req.Title},
		"description":  {req.Description},
		"video_state":  {"PUBLISHED"},
	}
	raw, err := f.graph.postForm(ctx, Facebook, "finish", endpoint, finish, nil)
	if err != nil {
		err = &PublishError{Platform: Facebook, Err: err}
		return failed(Facebook, err.Error()), err
	}
	f.log.Debugf("facebook: finish response: %s", raw)
	f.log.Infof("facebook: upload successful: %s", session.VideoID)

	return succeeded(Facebook, session.VideoID, reelURL(session.VideoID), map[string]string{
		"video_id": session.VideoID,
	}, raw), nil
}

func reelURL(videoID string) string {
	return fmt.Sprintf("https://www.facebook.com/reel/%s", videoID)
}
