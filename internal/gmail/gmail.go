package gmail

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	apiURL = "https://gmail.googleapis.com/gmail/v1"
	userID = "me"
	// Max value for list results per page.
	maxResults = "100"
)

type Client struct {
	// ctx used only for http requests right now
	ctx        context.Context
	token      string
	logger     *zap.Logger
	HTTPClient *http.Client
	UserAgent  string
	APIURL     string
}

func New(ctx context.Context, logger *zap.Logger, token string) *Client {
	return &Client{
		ctx:    ctx,
		token:  token,
		APIURL: apiURL,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger:    logger,
		UserAgent: "sublet-scout",
	}
}

// Search returns full messages matching the params, sorted by receipt time.
func (c *Client) Search(params *SearchParams) (*Messages, error) {
	return c.search(params)
}

// GetMessage fetches a single full message by id.
func (c *Client) GetMessage(id string) (*Message, error) {
	return c.getMessage(id)
}
