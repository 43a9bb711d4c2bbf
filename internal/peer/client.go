package peer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/squadron-agent/squadron/internal/httpkit"
)

const (
	// sendTimeout bounds one message round trip.
	sendTimeout = 30 * time.Second
	// discoverTimeout bounds an agent card fetch.
	discoverTimeout = 10 * time.Second
)

// Client talks to remote agents.
type Client struct {
	send     *http.Client
	discover *http.Client
}

// NewClient creates an agent client with bounded timeouts.
func NewClient() *Client {
	return &Client{
		send:     httpkit.NewClient(httpkit.WithTimeout(sendTimeout)),
		discover: httpkit.NewClient(httpkit.WithTimeout(discoverTimeout)),
	}
}

// Discover fetches a peer's agent card.
func (c *Client) Discover(ctx context.Context, baseURL string) (*AgentCard, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+WellKnownPath, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.discover.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discovery failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery returned %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 4096))
	}

	var card AgentCard
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return nil, fmt.Errorf("decode agent card: %w", err)
	}
	return &card, nil
}

// SendText delivers a text message to a peer endpoint and returns the
// reply text. Each message carries a generated id for correlation.
func (c *Client) SendText(ctx context.Context, baseURL, text string) (string, error) {
	msgID, _ := uuid.NewV7()
	body, err := json.Marshal(messageEnvelope{
		Message: NewTextMessage(msgID.String(), "user", text),
	})
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+MessagePath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.send.Do(req)
	if err != nil {
		return "", fmt.Errorf("send failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("peer returned %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 4096))
	}

	var env messageEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return "", fmt.Errorf("decode reply: %w", err)
	}
	return env.Message.Text(), nil
}

// Directory resolves configured peer names to endpoints and sends
// messages to them. It is the loop's remote transport.
type Directory struct {
	logger    *slog.Logger
	client    *Client
	endpoints map[string]string
}

// Endpoint is one configured peer.
type Endpoint struct {
	Name string
	URL  string
}

// NewDirectory creates a directory over the configured peers.
func NewDirectory(logger *slog.Logger, client *Client, peers []Endpoint) *Directory {
	endpoints := make(map[string]string, len(peers))
	for _, p := range peers {
		endpoints[p.Name] = p.URL
	}
	return &Directory{logger: logger, client: client, endpoints: endpoints}
}

// Send delivers text to the named peer.
func (d *Directory) Send(ctx context.Context, peerName, text string) (string, error) {
	url, ok := d.endpoints[peerName]
	if !ok {
		return "", fmt.Errorf("no endpoint for peer %q", peerName)
	}

	d.logger.Debug("sending to peer",
		"peer", peerName,
		"url", url,
		"text_len", len(text),
	)
	return d.client.SendText(ctx, url, text)
}

// DiscoverAll fetches every configured peer's card. Unreachable peers
// are reported in the error map rather than failing the whole sweep.
func (d *Directory) DiscoverAll(ctx context.Context) (map[string]*AgentCard, map[string]error) {
	cards := make(map[string]*AgentCard)
	errs := make(map[string]error)
	for name, url := range d.endpoints {
		card, err := d.client.Discover(ctx, url)
		if err != nil {
			errs[name] = err
			continue
		}
		cards[name] = card
	}
	return cards, errs
}
