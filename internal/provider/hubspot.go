// crmsync - Bidirectional CRM Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crmsync

/*
hubspot.go - HubSpot CRM v3 provider

Talks to the HubSpot objects, search and properties APIs with a private app
access token taken from the connection credentials ("access_token").

Reads:
  - no watermark: GET /crm/v3/objects/{entity} paged with the "after" cursor
  - with watermark: POST /crm/v3/objects/{entity}/search filtered and sorted
    on hs_lastmodifieddate

Writes:
  - create: POST /crm/v3/objects/{entity}
  - update: PATCH /crm/v3/objects/{entity}/{id}

Webhooks use the v1 signature scheme: X-HubSpot-Signature is the hex SHA-256
of client secret followed by the raw body.
*/

package provider

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/crmsync/internal/config"
	"github.com/tomtom215/crmsync/internal/logging"
	"github.com/tomtom215/crmsync/internal/models"
)

const (
	defaultHubSpotURL = "https://api.hubapi.com"

	// HubSpotSignatureHeader carries the v1 webhook signature.
	HubSpotSignatureHeader = "X-HubSpot-Signature"

	hubspotModifiedProperty = "hs_lastmodifieddate"

	// maxErrorBodySize limits how much of an error response is read.
	maxErrorBodySize = 64 * 1024
)

// hubspotEntities are the standard objects exposed by ListEntities.
var hubspotEntities = []models.EntitySchema{
	{Name: "companies", DisplayName: "Companies"},
	{Name: "contacts", DisplayName: "Contacts"},
	{Name: "deals", DisplayName: "Deals"},
}

// HubSpotOptions configures the HubSpot client.
type HubSpotOptions struct {
	BaseURL        string
	HTTPClient     *http.Client
	PageSize       int
	MaxRetries     int
	RetryBaseDelay time.Duration
}

// HubSpotProvider implements Provider against HubSpot.
type HubSpotProvider struct {
	baseURL        string
	client         *http.Client
	pageSize       int
	maxRetries     int
	retryBaseDelay time.Duration
}

// NewHubSpotProvider builds a provider; zero options take defaults (30s
// timeout, 100 records per page, 5 retries on HTTP 429 from 1s).
func NewHubSpotProvider(opts HubSpotOptions) *HubSpotProvider {
	p := &HubSpotProvider{
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		client:         opts.HTTPClient,
		pageSize:       opts.PageSize,
		maxRetries:     opts.MaxRetries,
		retryBaseDelay: opts.RetryBaseDelay,
	}
	if p.baseURL == "" {
		p.baseURL = defaultHubSpotURL
	}
	if p.client == nil {
		p.client = &http.Client{Timeout: 30 * time.Second}
	}
	if p.pageSize <= 0 || p.pageSize > 100 {
		p.pageSize = 100
	}
	if p.maxRetries <= 0 {
		p.maxRetries = 5
	}
	if p.retryBaseDelay <= 0 {
		p.retryBaseDelay = time.Second
	}
	return p
}

type hubspotObject struct {
	ID         string         `json:"id"`
	Properties map[string]any `json:"properties"`
	UpdatedAt  string         `json:"updatedAt"`
}

type hubspotPage struct {
	Results []hubspotObject `json:"results"`
	Paging  *struct {
		Next *struct {
			After string `json:"after"`
		} `json:"next"`
	} `json:"paging"`
}

type hubspotProperty struct {
	Name                 string `json:"name"`
	Label                string `json:"label"`
	Type                 string `json:"type"`
	ModificationMetadata struct {
		ReadOnlyValue bool `json:"readOnlyValue"`
	} `json:"modificationMetadata"`
}

type hubspotFilter struct {
	PropertyName string `json:"propertyName"`
	Operator     string `json:"operator"`
	Value        string `json:"value"`
}

type hubspotFilterGroup struct {
	Filters []hubspotFilter `json:"filters"`
}

type hubspotSearch struct {
	FilterGroups []hubspotFilterGroup `json:"filterGroups,omitempty"`
	Sorts        []map[string]string  `json:"sorts,omitempty"`
	Properties   []string             `json:"properties,omitempty"`
	Limit        int                  `json:"limit"`
	After        string               `json:"after,omitempty"`
}

func token(conn *models.Connection) string {
	return conn.Credentials["access_token"]
}

// do performs one API call with HTTP 429 backoff and maps error statuses to
// the package sentinels. out may be nil.
func (p *HubSpotProvider) do(ctx context.Context, conn *models.Connection, op, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return &Error{Op: op, Err: fmt.Errorf("encode request: %w", err)}
		}
	}

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return &Error{Op: op, Err: err}
		}

		var body io.Reader = http.NoBody
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
		if err != nil {
			return &Error{Op: op, Err: fmt.Errorf("create request: %w", err)}
		}
		req.Header.Set("Authorization", "Bearer "+token(conn))
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := p.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return &Error{Op: op, Err: ctx.Err()}
			}
			return &Error{Op: op, Err: fmt.Errorf("%w: %v", ErrUnreachable, err)}
		}

		if resp.StatusCode == http.StatusTooManyRequests && attempt < p.maxRetries {
			_ = resp.Body.Close()
			delay := p.retryBaseDelay * time.Duration(1<<uint(attempt))
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if secs, err := strconv.Atoi(ra); err == nil {
					delay = time.Duration(secs) * time.Second
				}
			}
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return &Error{Op: op, Err: ctx.Err()}
			}
		}

		err = p.decode(resp, out)
		_ = resp.Body.Close()
		if err != nil {
			return &Error{Op: op, Err: err}
		}
		return nil
	}
}

func (p *HubSpotProvider) decode(resp *http.Response, out any) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrAuthentication, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: status %d", ErrNotFound, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d: %s", ErrUnreachable, resp.StatusCode, readBodyForError(resp.Body))
	case resp.StatusCode >= 300:
		return fmt.Errorf("status %d: %s", resp.StatusCode, readBodyForError(resp.Body))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func readBodyForError(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return "(failed to read response body)"
	}
	return string(body)
}

func (p *HubSpotProvider) ValidateConnection(ctx context.Context, conn *models.Connection) bool {
	return p.CheckConnection(ctx, conn) == nil
}

// CheckConnection issues a one-record read. Rejected credentials surface as
// ErrAuthentication; transport failures keep their ErrUnreachable cause.
func (p *HubSpotProvider) CheckConnection(ctx context.Context, conn *models.Connection) error {
	tok := token(conn)
	var err error
	if tok == "" {
		err = &Error{Op: OpValidateConnection, Err: fmt.Errorf("%w: no access token", ErrAuthentication)}
	} else {
		err = p.do(ctx, conn, OpValidateConnection, http.MethodGet, "/crm/v3/objects/contacts?limit=1", nil, nil)
	}
	if errors.Is(err, ErrAuthentication) {
		logging.Warn().
			Str("connection_id", conn.ID).
			Str("access_token", config.MaskCredential(tok)).
			Msg("HubSpot rejected connection credentials")
	}
	return err
}

func (p *HubSpotProvider) ListEntities(_ context.Context, _ *models.Connection) ([]models.EntitySchema, error) {
	return append([]models.EntitySchema(nil), hubspotEntities...), nil
}

func (p *HubSpotProvider) ListFields(ctx context.Context, conn *models.Connection, entity string) ([]models.FieldSchema, error) {
	var resp struct {
		Results []hubspotProperty `json:"results"`
	}
	if err := p.do(ctx, conn, OpListFields, http.MethodGet, "/crm/v3/properties/"+url.PathEscape(entity), nil, &resp); err != nil {
		return nil, err
	}
	out := make([]models.FieldSchema, 0, len(resp.Results))
	for _, prop := range resp.Results {
		out = append(out, models.FieldSchema{
			Name:        prop.Name,
			DisplayName: prop.Label,
			Type:        prop.Type,
			ReadOnly:    prop.ModificationMetadata.ReadOnlyValue,
		})
	}
	return out, nil
}

func (p *HubSpotProvider) properties(ctx context.Context, conn *models.Connection, entity string) ([]string, error) {
	fields, err := p.ListFields(ctx, conn, entity)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, f.Name)
	}
	return names, nil
}

func (p *HubSpotProvider) ReadChanged(_ context.Context, conn *models.Connection, entity string, since *time.Time, filter string) RecordIterator {
	return &hubspotIterator{p: p, conn: conn, entity: entity, since: since, filter: filter}
}

func (p *HubSpotProvider) Read(ctx context.Context, conn *models.Connection, entity, id string) (*models.ExternalRecord, error) {
	props, err := p.properties(ctx, conn, entity)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	if len(props) > 0 {
		q.Set("properties", strings.Join(props, ","))
	}
	path := fmt.Sprintf("/crm/v3/objects/%s/%s?%s", url.PathEscape(entity), url.PathEscape(id), q.Encode())

	var obj hubspotObject
	if err := p.do(ctx, conn, OpRead, http.MethodGet, path, nil, &obj); err != nil {
		return nil, err
	}
	return obj.record(entity), nil
}

func (p *HubSpotProvider) Upsert(ctx context.Context, conn *models.Connection, entity, externalID string, fields map[string]any) (string, bool, error) {
	body := map[string]any{"properties": hubspotValues(fields)}
	var obj hubspotObject

	if externalID == "" {
		if err := p.do(ctx, conn, OpUpsert, http.MethodPost, "/crm/v3/objects/"+url.PathEscape(entity), body, &obj); err != nil {
			return "", false, err
		}
		return obj.ID, true, nil
	}

	path := fmt.Sprintf("/crm/v3/objects/%s/%s", url.PathEscape(entity), url.PathEscape(externalID))
	if err := p.do(ctx, conn, OpUpsert, http.MethodPatch, path, body, &obj); err != nil {
		return "", false, err
	}
	return externalID, false, nil
}

// hubspotValues renders values the way HubSpot stores properties: strings,
// with dates as RFC 3339 and nil as the empty string (clears the property).
func hubspotValues(fields map[string]any) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		switch val := v.(type) {
		case nil:
			out[k] = ""
		case string:
			out[k] = val
		case time.Time:
			out[k] = val.UTC().Format(time.RFC3339)
		case bool:
			out[k] = strconv.FormatBool(val)
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}

func (o *hubspotObject) record(entity string) *models.ExternalRecord {
	rec := &models.ExternalRecord{ID: o.ID, Entity: entity, Fields: make(map[string]any, len(o.Properties))}
	for k, v := range o.Properties {
		rec.Fields[k] = v
	}
	if t, err := time.Parse(time.RFC3339Nano, o.UpdatedAt); err == nil {
		rec.ModifiedAt = t
	}
	return rec
}

// hubspotIterator pages through list or search results on demand.
type hubspotIterator struct {
	p      *HubSpotProvider
	conn   *models.Connection
	entity string
	since  *time.Time
	filter string

	props   []string
	page    []hubspotObject
	after   string
	started bool
	done    bool
}

func (it *hubspotIterator) Next(ctx context.Context) (*models.ExternalRecord, error) {
	for len(it.page) == 0 {
		if it.done {
			return nil, io.EOF
		}
		if err := it.fetch(ctx); err != nil {
			return nil, err
		}
	}
	obj := it.page[0]
	it.page = it.page[1:]
	return obj.record(it.entity), nil
}

func (it *hubspotIterator) fetch(ctx context.Context) error {
	if !it.started {
		props, err := it.p.properties(ctx, it.conn, it.entity)
		if err != nil {
			return err
		}
		it.props = props
		it.started = true
	}

	var page hubspotPage
	var err error
	if it.since == nil && it.filter == "" {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(it.p.pageSize))
		if it.after != "" {
			q.Set("after", it.after)
		}
		if len(it.props) > 0 {
			q.Set("properties", strings.Join(it.props, ","))
		}
		err = it.p.do(ctx, it.conn, OpReadChanged, http.MethodGet,
			"/crm/v3/objects/"+url.PathEscape(it.entity)+"?"+q.Encode(), nil, &page)
	} else {
		err = it.p.do(ctx, it.conn, OpReadChanged, http.MethodPost,
			"/crm/v3/objects/"+url.PathEscape(it.entity)+"/search", it.searchBody(), &page)
	}
	if err != nil {
		return err
	}

	it.page = page.Results
	if page.Paging != nil && page.Paging.Next != nil && page.Paging.Next.After != "" {
		it.after = page.Paging.Next.After
	} else {
		it.done = true
	}
	return nil
}

func (it *hubspotIterator) searchBody() hubspotSearch {
	var filters []hubspotFilter
	if it.since != nil {
		filters = append(filters, hubspotFilter{
			PropertyName: hubspotModifiedProperty,
			Operator:     "GT",
			Value:        strconv.FormatInt(it.since.UnixMilli(), 10),
		})
	}
	if field, value, ok := parseFilter(it.filter); ok {
		filters = append(filters, hubspotFilter{PropertyName: field, Operator: "EQ", Value: value})
	}

	s := hubspotSearch{
		Sorts:      []map[string]string{{"propertyName": hubspotModifiedProperty, "direction": "ASCENDING"}},
		Properties: it.props,
		Limit:      it.p.pageSize,
		After:      it.after,
	}
	if len(filters) > 0 {
		s.FilterGroups = []hubspotFilterGroup{{Filters: filters}}
	}
	return s
}

type hubspotWebhookEvent struct {
	ObjectID         int64  `json:"objectId"`
	SubscriptionType string `json:"subscriptionType"`
	OccurredAt       int64  `json:"occurredAt"`
}

// ParseWebhookPayload returns the first event of a HubSpot delivery. The
// orchestrator reads whole deliveries through ParseWebhookBatch.
func (p *HubSpotProvider) ParseWebhookPayload(body []byte, headers http.Header) (*models.WebhookEvent, error) {
	events, err := p.ParseWebhookBatch(body, headers)
	if err != nil {
		return nil, err
	}
	return events[0], nil
}

// ParseWebhookBatch decodes a HubSpot delivery, a JSON array of events.
// HubSpot sends one propertyChange event per changed property, so repeats
// of the same change to the same object are collapsed, keeping order.
func (p *HubSpotProvider) ParseWebhookBatch(body []byte, _ http.Header) ([]*models.WebhookEvent, error) {
	var raw []hubspotWebhookEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty event batch", ErrInvalidPayload)
	}

	events := make([]*models.WebhookEvent, 0, len(raw))
	seen := make(map[models.WebhookEvent]bool, len(raw))
	for _, ev := range raw {
		parsed, err := parseHubSpotEvent(ev)
		if err != nil {
			return nil, err
		}
		key := models.WebhookEvent{EventType: parsed.EventType, Entity: parsed.Entity, RecordID: parsed.RecordID}
		if seen[key] {
			continue
		}
		seen[key] = true
		events = append(events, parsed)
	}
	return events, nil
}

func parseHubSpotEvent(ev hubspotWebhookEvent) (*models.WebhookEvent, error) {
	object, action, ok := strings.Cut(ev.SubscriptionType, ".")
	if !ok || ev.ObjectID == 0 {
		return nil, fmt.Errorf("%w: subscription %q", ErrInvalidPayload, ev.SubscriptionType)
	}

	var eventType models.WebhookEventType
	switch action {
	case "creation":
		eventType = models.WebhookCreated
	case "deletion":
		eventType = models.WebhookDeleted
	case "propertyChange", "associationChange", "restore", "merge":
		eventType = models.WebhookUpdated
	default:
		return nil, fmt.Errorf("%w: subscription %q", ErrInvalidPayload, ev.SubscriptionType)
	}

	entity, ok := map[string]string{"contact": "contacts", "company": "companies", "deal": "deals"}[object]
	if !ok {
		entity = object
	}

	return &models.WebhookEvent{
		EventType:  eventType,
		Entity:     entity,
		RecordID:   strconv.FormatInt(ev.ObjectID, 10),
		OccurredAt: time.UnixMilli(ev.OccurredAt).UTC(),
	}, nil
}

// ValidateWebhookSignature checks the v1 signature. An empty secret accepts
// unsigned deliveries.
func (p *HubSpotProvider) ValidateWebhookSignature(body []byte, headers http.Header, secret string) bool {
	if secret == "" {
		return true
	}
	got := strings.TrimSpace(headers.Get(HubSpotSignatureHeader))
	if got == "" {
		return false
	}
	sum := sha256.Sum256(append([]byte(secret), body...))
	return equalHex(got, hex.EncodeToString(sum[:]))
}
