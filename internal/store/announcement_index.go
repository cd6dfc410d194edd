package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"placement-mailer/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// AnnouncementIndex mirrors announcements into Elasticsearch so a person's
// notification history can be searched without touching Postgres.
type AnnouncementIndex struct {
	client *elasticsearch.Client
	index  string
}

func NewAnnouncementIndex(client *elasticsearch.Client, index string) *AnnouncementIndex {
	return &AnnouncementIndex{client: client, index: index}
}

// Index writes a under its database id, so re-indexing is an overwrite.
func (i *AnnouncementIndex) Index(ctx context.Context, a models.Announcement) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode announcement: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      i.index,
		DocumentID: strconv.FormatInt(a.ID, 10),
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, i.client)
	if err != nil {
		return fmt.Errorf("index announcement: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index announcement: %s", res.Status())
	}
	return nil
}

// SearchByPerson returns the newest announcements of personID.
func (i *AnnouncementIndex) SearchByPerson(ctx context.Context, personID string, size int) ([]models.Announcement, error) {
	if size <= 0 {
		size = 20
	}

	query := map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{"personId.keyword": personID},
		},
		"sort": []interface{}{
			map[string]interface{}{"createdAt": map[string]interface{}{"order": "desc"}},
		},
	}
	body, _ := json.Marshal(query)

	req := esapi.SearchRequest{
		Index: []string{i.index},
		Body:  bytes.NewReader(body),
		Size:  &size,
	}
	res, err := req.Do(ctx, i.client)
	if err != nil {
		return nil, fmt.Errorf("search announcements: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("search announcements: %s", res.Status())
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source models.Announcement `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	out := make([]models.Announcement, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		out = append(out, hit.Source)
	}
	return out, nil
}
