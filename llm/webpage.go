package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"errors"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

const (
	defaultPageBytes = 2 << 20
	defaultPageChars = 20000
	maxPageRedirects = 5
)

// ErrBlockedAddress is returned when a page resolves to an address the server must not reach,
// such as loopback, private networks or cloud metadata endpoints.
var ErrBlockedAddress = errors.New("address is not publicly routable")

// sharedAddressSpace is the carrier-grade NAT range, which netip does not count as private.
var sharedAddressSpace = netip.MustParsePrefix("100.64.0.0/10")

type webpageInput struct {
	URL string `json:"url"`
}

type Webpage struct {
	URL       string `json:"url"`
	Markdown  string `json:"markdown"`
	Truncated bool   `json:"truncated"`
}

// WebpageTool fetches a page and hands it to the model as markdown. The URL comes from the
// model, so every connection, redirects included, is checked after DNS resolution and only
// public addresses are dialed.
type WebpageTool struct {
	Client   *http.Client
	MaxBytes int64
	MaxChars int
	// AllowAddr admits an address that is not public. Nil admits none.
	AllowAddr func(netip.AddrPort) bool
}

func NewWebpageTool(timeout time.Duration) *WebpageTool {
	t := &WebpageTool{
		MaxBytes: defaultPageBytes,
		MaxChars: defaultPageChars,
	}
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   t.checkDial,
	}
	t.Client = &http.Client{
		Timeout: timeout,
		// no proxy: a proxy would dial the target on our behalf and skip the address check
		Transport: &http.Transport{
			DialContext:         dialer.DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxPageRedirects {
				return fmt.Errorf("stopped after %d redirects", maxPageRedirects)
			}
			if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
				return fmt.Errorf("redirect to unsupported scheme %q", req.URL.Scheme)
			}
			return nil
		},
	}
	return t
}

// checkDial runs for every connection with the resolved address.
func (t *WebpageTool) checkDial(network, address string, _ syscall.RawConn) error {
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, address)
	}
	if publicAddr(ap.Addr()) || (t.AllowAddr != nil && t.AllowAddr(ap)) {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrBlockedAddress, address)
}

func publicAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	switch {
	case !addr.IsValid(),
		addr.IsUnspecified(),
		addr.IsLoopback(),
		addr.IsPrivate(),
		addr.IsLinkLocalUnicast(),
		addr.IsLinkLocalMulticast(),
		addr.IsInterfaceLocalMulticast(),
		addr.IsMulticast(),
		sharedAddressSpace.Contains(addr):
		return false
	}
	return true
}

func (t *WebpageTool) Name() string { return "read_webpage" }

func (t *WebpageTool) Description() string {
	return "Read a web page and return its content as markdown"
}

func (t *WebpageTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "Absolute http or https URL",
			},
		},
		"required":             []string{"url"},
		"additionalProperties": false,
	}
}

func (t *WebpageTool) Execute(ctx context.Context, input json.RawMessage) (any, error) {
	var in webpageInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, err
	}
	u, err := url.Parse(strings.TrimSpace(in.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid url %q", in.URL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	res, err := t.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s error: %w", u, err)
	}
	defer res.Body.Close()
	if res.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("request %s returned status %d", u, res.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(res.Body, t.MaxBytes))
	if err != nil {
		return nil, fmt.Errorf("read body error: %w", err)
	}
	content, err := htmltomarkdown.ConvertString(string(data))
	if err != nil {
		return nil, fmt.Errorf("transfer body error: %w", err)
	}

	page := Webpage{URL: u.String(), Markdown: content}
	if runes := []rune(content); t.MaxChars > 0 && len(runes) > t.MaxChars {
		page.Markdown = string(runes[:t.MaxChars])
		page.Truncated = true
	}
	return page, nil
}
