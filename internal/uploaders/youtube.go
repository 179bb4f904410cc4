package uploaders

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"shorts-publisher/internal/logging"
)

// shortsMarker turns a regular upload into a Short.
const shortsMarker = "\n\n#Shorts"

var defaultTags = []string{"shorts", "education", "quiz"}

// angleBrackets maps characters the Data API rejects in descriptions to
// their full-width forms.
var angleBrackets = strings.NewReplacer("<", "＜", ">", "＞")

// SecretSource is implemented by credential sources whose secrets must be
// scrubbed from failure reasons.
type SecretSource interface {
	Secrets() []string
}

// ClientSource hands out an authorized HTTP client.
type ClientSource interface {
	Client(ctx context.Context) (*http.Client, error)
}

// YouTubeUploader handles YouTube video uploads
type YouTubeUploader struct {
	creds           ClientSource
	categoryID      string
	privacy         string
	chunkSize       int
	baseURL         string
	transferTimeout time.Duration
	log             *logging.Logger
}

func newYouTubeUploader(creds ClientSource, categoryID, privacy string, chunkSize int, baseURL string, transferTimeout time.Duration, log *logging.Logger) *YouTubeUploader {
	if baseURL != "" && !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &YouTubeUploader{
		creds:           creds,
		categoryID:      categoryID,
		privacy:         privacy,
		chunkSize:       chunkSize,
		baseURL:         baseURL,
		transferTimeout: transferTimeout,
		log:             log,
	}
}

// Platform returns the platform name
func (y *YouTubeUploader) Platform() Target {
	return YouTube
}

// Upload uploads a video to YouTube Shorts with a resumable, chunked upload.
func (y *YouTubeUploader) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	y.log.Infof("youtube: uploading short %q", req.Title)

	client, err := y.creds.Client(ctx)
	if err != nil {
		err = fmt.Errorf("youtube authentication: %w", err)
		return failed(YouTube, err.Error()), err
	}

	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if y.baseURL != "" {
		opts = append(opts, option.WithEndpoint(y.baseURL))
	}
	service, err := youtube.NewService(ctx, opts...)
	if err != nil {
		err = fmt.Errorf("create YouTube service: %w", err)
		return failed(YouTube, err.Error()), err
	}

	videoFile, err := os.Open(req.VideoPath)
	if err != nil {
		err = fmt.Errorf("open video file: %w", err)
		return failed(YouTube, err.Error()), err
	}
	defer videoFile.Close()

	var size int64
	if info, err := videoFile.Stat(); err == nil {
		size = info.Size()
	}

	privacy := req.Privacy
	if privacy == "" {
		privacy = y.privacy
	}
	tags := req.Tags
	if len(tags) == 0 {
		tags = defaultTags
	}

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       req.Title,
			Description: sanitizeDescription(req.Description) + shortsMarker,
			Tags:        tags,
			CategoryId:  y.categoryID,
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus:           privacy,
			SelfDeclaredMadeForKids: false,
			ForceSendFields:         []string{"SelfDeclaredMadeForKids"},
		},
	}

	if err := ctx.Err(); err != nil {
		return failed(YouTube, err.Error()), err
	}
	uploadCtx, cancel := withTimeout(context.WithoutCancel(ctx), y.transferTimeout)
	defer cancel()

	call := service.Videos.Insert([]string{"snippet", "status"}, video).
		Media(videoFile, googleapi.ChunkSize(y.chunkSize), googleapi.ContentType("video/mp4")).
		ProgressUpdater(func(current, total int64) {
			if total <= 0 {
				total = size
			}
			if total > 0 {
				y.log.Infof("youtube: upload progress: %d%%", int(float64(current)/float64(total)*100))
			}
		}).
		Context(uploadCtx)

	resp, err := call.Do()
	if err != nil {
		err = classifyYouTubeError(err)
		return failed(YouTube, err.Error()), err
	}
	if resp.Id == "" {
		err := &ProtocolError{Platform: YouTube, Phase: "insert", Missing: []string{"id"}}
		return failed(YouTube, err.Error()), err
	}
	y.log.Infof("youtube: upload successful: %s", resp.Id)

	raw, _ := resp.MarshalJSON()
	return succeeded(YouTube, resp.Id, fmt.Sprintf("https://youtube.com/shorts/%s", resp.Id), map[string]string{
		"video_id": resp.Id,
		"title":    req.Title,
	}, raw), nil
}

func sanitizeDescription(s string) string {
	return angleBrackets.Replace(s)
}

func classifyYouTubeError(err error) error {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		if gErr.Code == http.StatusUnauthorized || gErr.Code == http.StatusForbidden {
			return fmt.Errorf("%w: youtube rejected the upload: %v", ErrAuth, gErr)
		}
		return fmt.Errorf("youtube upload failed: %w", gErr)
	}
	var uErr *url.Error
	if errors.As(err, &uErr) {
		return &NetworkError{Op: "youtube upload", Err: err}
	}
	return fmt.Errorf("youtube upload failed: %w", err)
}
