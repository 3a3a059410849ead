// Package sdk is the client-side library for Celerix tables. It builds
// encrypted payloads, decrypts records, and talks to a store that is
// either embedded in the process or reached over HTTP.
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/celerix-dev/celerix-tablecrypt/internal/api"
	"github.com/celerix-dev/celerix-tablecrypt/pkg/schema"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/retry"
)

// Waits between attempts start at 200ms and double up to 2s.
var defaultRetryPolicy = retry.Backoff(200*time.Millisecond, 2*time.Second, 2)

const defaultAttempts = 3

// Client is a remote client for the table API served by tablecryptd.
// It implements TableStore.
type Client struct {
	base     string
	http     *http.Client
	policy   retry.Policy
	attempts int
}

// Connect returns a client for the daemon at addr ("host:port" or a URL)
// after checking that it answers.
func Connect(addr string) (*Client, error) {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	c := &Client{
		base:     strings.TrimRight(addr, "/"),
		http:     &http.Client{Timeout: 30 * time.Second},
		policy:   defaultRetryPolicy,
		attempts: defaultAttempts,
	}
	if _, err := c.ListTables(); err != nil {
		return nil, err
	}
	return c, nil
}

// kinds maps the API's status codes back to error kinds.
var kinds = map[int]errors.Kind{
	http.StatusNotFound:           errors.NotExist,
	http.StatusConflict:           errors.Exists,
	http.StatusBadRequest:         errors.Invalid,
	http.StatusPreconditionFailed: errors.Precondition,
}

// call posts in to path and decodes the response into out. Transport
// failures and server errors are retried; client errors are not.
func (c *Client) call(path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return errors.E(errors.Invalid, "sdk: encode request", err)
		}
	}
	var lastErr error
	for retries := 0; ; retries++ {
		var retriable bool
		retriable, lastErr = c.do(path, body, out)
		if lastErr == nil || !retriable {
			return lastErr
		}
		log.Printf("sdk: attempt %d of %s failed: %v", retries+1, path, lastErr)
		if retries+1 >= c.attempts || retry.Wait(context.Background(), c.policy, retries) != nil {
			return errors.E(fmt.Sprintf("sdk: %s: gave up after %d attempts", path, retries+1), lastErr)
		}
	}
}

func (c *Client) do(path string, body []byte, out any) (retriable bool, err error) {
	resp, err := c.http.Post(c.base+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return true, errors.E(errors.Net, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return true, errors.E(errors.Net, err)
	}
	if resp.StatusCode != http.StatusOK {
		var res struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(b, &res) != nil || res.Error == "" {
			res.Error = resp.Status
		}
		kind, ok := kinds[resp.StatusCode]
		if !ok {
			return resp.StatusCode >= 500, errors.E(errors.Remote, res.Error)
		}
		return false, errors.E(kind, res.Error)
	}
	if out == nil {
		return false, nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return false, errors.E(errors.Integrity, "sdk: decode response", err)
	}
	return false, nil
}

func tablePath(tableID string, parts ...string) string {
	p := "/api/tables/" + url.PathEscape(tableID)
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}

func (c *Client) CreateTable(s *schema.TableSchema, mode schema.EncryptionMode) (*schema.TableSchema, error) {
	var out schema.TableSchema
	if err := c.call("/api/tables", api.CreateTableRequest{Schema: s, Mode: mode}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetTable(tableID string) (*schema.TableSchema, error) {
	var out schema.TableSchema
	if err := c.call(tablePath(tableID, "get"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListTables() ([]string, error) {
	var list []string
	err := c.call("/api/tables/list", nil, &list)
	return list, err
}

func (c *Client) DeleteTable(tableID string) error {
	return c.call(tablePath(tableID, "delete"), nil, nil)
}

func (c *Client) CreateRecord(tableID string, p *schema.Payload) (*schema.StoredRecord, error) {
	var out schema.StoredRecord
	if err := c.call(tablePath(tableID, "records"), p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateRecord(tableID, recordID string, p *schema.Payload) (*schema.StoredRecord, error) {
	var out schema.StoredRecord
	if err := c.call(tablePath(tableID, "records", recordID, "update"), p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateField(tableID, recordID, field string, p *schema.Payload) (*schema.StoredRecord, error) {
	var out schema.StoredRecord
	if err := c.call(tablePath(tableID, "records", recordID, "fields", field, "update"), p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RestoreRecord(tableID string, rec *schema.StoredRecord) error {
	return c.call(tablePath(tableID, "records", "restore"), rec, nil)
}

func (c *Client) GetRecord(tableID, recordID string) (*schema.StoredRecord, error) {
	var out schema.StoredRecord
	if err := c.call(tablePath(tableID, "records", recordID, "get"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListRecords(tableID string, offset, limit int) (*schema.RecordPage, error) {
	var out schema.RecordPage
	req := api.ListRecordsRequest{Offset: offset, Limit: limit}
	if err := c.call(tablePath(tableID, "records", "list"), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SearchRecords(tableID string, q schema.Query) ([]schema.StoredRecord, error) {
	var out []schema.StoredRecord
	err := c.call(tablePath(tableID, "records", "search"), q, &out)
	return out, err
}

func (c *Client) DeleteRecord(tableID, recordID string) error {
	return c.call(tablePath(tableID, "records", recordID, "delete"), nil, nil)
}
