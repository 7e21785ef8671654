// Package ledger is the client for the authoritative server ledger. The mesh
// consults it only to persist canonical state and resolve identities; it is
// never an event source. Every message takes the durable path first, then the
// mesh copy carries the canonical id the ledger assigned.
package ledger

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/kotaAnuj/PeerGram/internal/proto"
	"github.com/kotaAnuj/PeerGram/internal/registry"
)

const defaultTimeout = 10 * time.Second

type Client struct {
	baseURL string
	hc      *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Timeout: defaultTimeout},
	}
}

type Message struct {
	ID         string       `json:"id,omitempty"`
	SenderID   int64        `json:"senderId"`
	ReceiverID int64        `json:"receiverId"`
	Content    string       `json:"content"`
	Embed      *proto.Embed `json:"embedData,omitempty"`
	Timestamp  int64        `json:"timestamp"`
	Delivered  bool         `json:"delivered,omitempty"`
}

type Connection struct {
	UserID     int64  `json:"userId"`
	PeerUserID int64  `json:"peerUserId,omitempty"`
	PeerID     string `json:"peerId"`
	Strength   string `json:"strength,omitempty"`
	Connected  bool   `json:"connected"`
}

type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// CreateMessage performs the durable write and returns the canonical message
// id. Callers must tag any mesh-delivered copy with exactly this id.
func (c *Client) CreateMessage(ctx context.Context, m Message) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/messages", m, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("ledger: create message returned no id")
	}
	return out.ID, nil
}

func (c *Client) UpdateMessage(ctx context.Context, id string, delivered bool) error {
	body := struct {
		Delivered bool `json:"delivered"`
	}{Delivered: delivered}
	return c.do(ctx, http.MethodPatch, "/api/messages/"+id, body, nil)
}

func (c *Client) CreateConnection(ctx context.Context, conn Connection) error {
	return c.do(ctx, http.MethodPost, "/api/connections", conn, nil)
}

func (c *Client) UpdateConnection(ctx context.Context, conn Connection) error {
	return c.do(ctx, http.MethodPatch, "/api/connections/"+conn.PeerID, conn, nil)
}

func (c *Client) GetConnections(ctx context.Context, userID int64) ([]Connection, error) {
	var out []Connection
	path := fmt.Sprintf("/api/connections?userId=%d", userID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetUser(ctx context.Context, id int64) (User, error) {
	var out User
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/users/%d", id), nil, &out); err != nil {
		return User{}, err
	}
	return out, nil
}

func (c *Client) UpdateNetworkStats(ctx context.Context, userID int64, snap registry.Snapshot) error {
	body := struct {
		UserID int64             `json:"userId"`
		Stats  registry.Snapshot `json:"stats"`
	}{UserID: userID, Stats: snap}
	return c.do(ctx, http.MethodPost, "/api/network-stats", body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("ledger: encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("ledger: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("ledger: %s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, proto.MaxFrameSize))
	if err != nil {
		return fmt.Errorf("ledger: read %s %s: %w", method, path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("ledger: decode %s %s: %w", method, path, err)
	}
	return nil
}
