// Package mealgen extracts structured meal data from a YouTube video's
// description and uploader comments using an LLM.
package mealgen

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const defaultYouTubeBaseURL = "https://www.googleapis.com/youtube/v3"

// StatusError carries an HTTP status for the API layer to surface directly.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("mealgen: %s (status %d)", e.Message, e.Code)
}

var videoIDPattern = regexp.MustCompile(`(?:youtube\.com/(?:[^/]+/.+/|(?:v|e(?:mbed)?|shorts)/|.*[?&]v=)|youtu\.be/)([^"&?/ ]{11})`)

// VideoIDFromURL extracts the 11-character video id from the usual YouTube
// URL shapes, or returns empty when the URL is not a video link.
func VideoIDFromURL(rawURL string) string {
	match := videoIDPattern.FindStringSubmatch(rawURL)
	if match == nil {
		return ""
	}
	return match[1]
}

// VideoDetails is the subset of video metadata the extractor prompts with.
type VideoDetails struct {
	VideoID         string
	Title           string
	Description     string
	ChannelID       string
	ThumbnailURL    string
	Tags            []string
	ChannelComments []string
}

// YouTubeClient reads video snippets and comment threads from the YouTube
// Data API v3.
type YouTubeClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewYouTubeClient returns a client for the Data API. baseURL overrides the
// production endpoint when non-empty (tests).
func NewYouTubeClient(apiKey, baseURL string) (*YouTubeClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("mealgen: YouTube API key is required")
	}
	if baseURL == "" {
		baseURL = defaultYouTubeBaseURL
	}
	return &YouTubeClient{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type videoListResponse struct {
	Items []struct {
		Snippet struct {
			Title       string   `json:"title"`
			Description string   `json:"description"`
			ChannelID   string   `json:"channelId"`
			Tags        []string `json:"tags"`
			Thumbnails  struct {
				Standard struct {
					URL string `json:"url"`
				} `json:"standard"`
			} `json:"thumbnails"`
		} `json:"snippet"`
	} `json:"items"`
}

type commentThreadsResponse struct {
	NextPageToken string `json:"nextPageToken"`
	Items         []struct {
		Snippet struct {
			TopLevelComment struct {
				Snippet struct {
					TextDisplay     string `json:"textDisplay"`
					AuthorChannelID struct {
						Value string `json:"value"`
					} `json:"authorChannelId"`
				} `json:"snippet"`
			} `json:"topLevelComment"`
		} `json:"snippet"`
	} `json:"items"`
}

// FetchVideo resolves a video URL to its snippet plus every top-level comment
// left by the uploading channel itself (recipes commonly live there).
func (c *YouTubeClient) FetchVideo(ctx context.Context, videoURL string) (*VideoDetails, error) {
	videoID := VideoIDFromURL(videoURL)
	if videoID == "" {
		return nil, &StatusError{Code: http.StatusBadRequest, Message: "invalid YouTube URL"}
	}

	var listResponse videoListResponse
	listQuery := url.Values{"part": {"snippet"}, "id": {videoID}, "maxResults": {"1"}, "key": {c.apiKey}}
	if err := c.getJSON(ctx, "/videos", listQuery, &listResponse); err != nil {
		return nil, err
	}
	if len(listResponse.Items) == 0 {
		return nil, &StatusError{Code: http.StatusBadRequest, Message: "YouTube URL could not be resolved to an actual video"}
	}

	snippet := listResponse.Items[0].Snippet
	details := &VideoDetails{
		VideoID:      videoID,
		Title:        snippet.Title,
		Description:  snippet.Description,
		ChannelID:    snippet.ChannelID,
		ThumbnailURL: snippet.Thumbnails.Standard.URL,
		Tags:         snippet.Tags,
	}

	pageToken := ""
	for {
		commentsQuery := url.Values{
			"part":       {"snippet"},
			"videoId":    {videoID},
			"textFormat": {"plainText"},
			"maxResults": {"100"},
			"key":        {c.apiKey},
		}
		if pageToken != "" {
			commentsQuery.Set("pageToken", pageToken)
		}
		var page commentThreadsResponse
		if err := c.getJSON(ctx, "/commentThreads", commentsQuery, &page); err != nil {
			// Comments can be disabled on a video; the description alone may
			// still carry the recipe.
			break
		}
		for _, item := range page.Items {
			comment := item.Snippet.TopLevelComment.Snippet
			if comment.AuthorChannelID.Value == details.ChannelID && comment.TextDisplay != "" {
				details.ChannelComments = append(details.ChannelComments, comment.TextDisplay)
			}
		}
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	return details, nil
}

func (c *YouTubeClient) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("mealgen: YouTube request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &StatusError{Code: http.StatusBadGateway,
			Message: fmt.Sprintf("YouTube API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
