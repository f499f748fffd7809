package gmail

import (
	"fmt"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
)

const defaultDaysBack = 7

type SearchParams struct {
	// Query is an extra Gmail search expression appended to the date window.
	Query string `yaml:"query"`
	// DaysBack bounds the search window; every message is assumed to be a
	// rental application.
	DaysBack   int      `yaml:"days-back" mapstructure:"days-back"`
	MaxResults string   `yaml:"max-results" mapstructure:"max-results"`
	Labels     []string `yaml:"labels"`
}

// queryParams maps to the Gmail list endpoint. gmailq is a custom tag for
// reflect. Please see buildParams below.
type queryParams struct {
	Q          string   `gmailq:"q"`
	MaxResults string   `gmailq:"maxResults"`
	LabelIDs   []string `gmailq:"labelIds"`
}

func (c *Client) search(params *SearchParams) (*Messages, error) {
	// Set maxResults max as possible. It should be faster.
	if params.MaxResults == "" {
		params.MaxResults = maxResults
	}

	days := params.DaysBack
	if days <= 0 {
		days = defaultDaysBack
	}

	// One extra day so messages from today survive Gmail's date rounding.
	after := time.Now().AddDate(0, 0, -(days + 1)).Format("2006/01/02")
	query := strings.TrimSpace(fmt.Sprintf("after:%s %s", after, params.Query))

	q := buildParams(&queryParams{
		Q:          query,
		MaxResults: params.MaxResults,
		LabelIDs:   params.Labels,
	})

	apiURLList := fmt.Sprintf("%s/users/%s/messages", c.APIURL, userID)

	items, err := c.GetItems(apiURLList, q)
	if err != nil {
		return nil, err
	}

	var refs []*MessageRef
	cfg := &mapstructure.DecoderConfig{
		Metadata: nil,
		Result:   &refs,
		TagName:  "json",
	}
	decoder, _ := mapstructure.NewDecoder(cfg)
	decoder.Decode(items)

	messages := &Messages{}
	for _, ref := range refs {
		full, err := c.getMessage(ref.ID)
		if err != nil {
			return nil, fmt.Errorf("get message %s: %w", ref.ID, err)
		}
		messages.Items = append(messages.Items, full)
	}

	messages.SortByReceived()

	return messages, nil
}

func (c *Client) getMessage(id string) (*Message, error) {
	if id == "" {
		return nil, fmt.Errorf("message id is required")
	}

	apiURLMessage := fmt.Sprintf("%s/users/%s/messages/%s", c.APIURL, userID, id)

	q := url.Values{}
	q.Set("format", "full")

	var message Message
	if err := c.getJSON(apiURLMessage, q, &message); err != nil {
		return nil, err
	}

	return &message, nil
}

func buildParams(params *queryParams) url.Values {
	q := url.Values{}
	fields := reflect.VisibleFields(reflect.TypeOf(*params))
	for _, field := range fields {
		// Our custom tag is using here.
		key := field.Tag.Get("gmailq")
		if key == "" {
			continue
		}
		kind := field.Type.Kind()
		switch kind {
		case reflect.Slice:

			s := reflect.ValueOf(params).Elem().Field(field.Index[0]).Interface()
			switch v := s.(type) {
			case []int:
				for _, value := range v {
					q.Add(key, strconv.Itoa(value))
				}

			case []string:
				for _, value := range v {
					q.Add(key, value)
				}
			}

		default:
			value := fmt.Sprintf("%v", reflect.ValueOf(params).Elem().Field(field.Index[0]).Interface())
			if value != "" && value != "0" {
				q.Set(key, value)
			}
		}
	}

	return q
}
