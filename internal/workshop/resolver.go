package workshop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"workshopdl/internal/logx"
	"workshopdl/internal/queue"
)

const (
	userAgent      = "workshopdl/1.0"
	workshopHost   = "steamcommunity.com"
	untitled       = "Unable to find mod title"
	maxPageBytes   = 8 << 20
	defaultTimeout = 30 * time.Second
)

// Resolution failure kinds, matched with errors.Is.
var (
	ErrInvalidReference = errors.New("invalid workshop reference")
	ErrMissingID        = errors.New("workshop url has no id parameter")
	ErrScopeMismatch    = errors.New("item belongs to another game")
	ErrFetch            = errors.New("fetch workshop page")
	ErrPageShape        = errors.New("unrecognized workshop page")
)

// ResolveError wraps a resolution failure with the reference that caused it.
type ResolveError struct {
	Kind error
	Ref  string
	Err  error
}

func (e *ResolveError) Error() string {
	msg := e.Kind.Error() + " " + e.Ref
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ResolveError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Resolver turns a workshop URL or bare item id into a queue item for one
// content scope.
type Resolver struct {
	Scope  string
	Client *http.Client
	Logger *zap.Logger
}

// NewResolver returns a resolver for the given app id.
func NewResolver(scope string, logger *zap.Logger) *Resolver {
	return &Resolver{
		Scope:  scope,
		Client: &http.Client{Timeout: defaultTimeout},
		Logger: logx.OrNop(logger).Named("workshop"),
	}
}

// Resolve validates ref. A numeric ref is taken as an item id without any
// network access; a URL is fetched to confirm the owning app and read the
// item title.
func (r *Resolver) Resolve(ctx context.Context, ref string) (queue.Item, error) {
	ref = strings.TrimSpace(ref)
	if isNumeric(ref) {
		return queue.Item{ContentScopeID: r.Scope, ItemID: ref, DisplayName: "item " + ref}, nil
	}

	itemID, err := ParseItemURL(ref)
	if err != nil {
		return queue.Item{}, err
	}

	page, err := r.fetch(ctx, ref)
	if err != nil {
		return queue.Item{}, &ResolveError{Kind: ErrFetch, Ref: ref, Err: err}
	}
	defer page.Close()

	doc, err := html.Parse(io.LimitReader(page, maxPageBytes))
	if err != nil {
		return queue.Item{}, &ResolveError{Kind: ErrPageShape, Ref: ref, Err: err}
	}

	appID, found := findAppID(doc)
	if !found {
		return queue.Item{}, &ResolveError{Kind: ErrPageShape, Ref: ref, Err: errors.New("game information not found on page")}
	}
	if appID != r.Scope {
		return queue.Item{}, &ResolveError{Kind: ErrScopeMismatch, Ref: ref, Err: fmt.Errorf("app id %q, want %q", appID, r.Scope)}
	}

	title := findTitle(doc)
	if title == "" {
		title = untitled
	}
	logx.OrNop(r.Logger).Debug("resolved workshop item", zap.String("item", itemID), zap.String("title", title))
	return queue.Item{ContentScopeID: r.Scope, ItemID: itemID, DisplayName: title}, nil
}

// PageURL is the workshop browse page for an app id.
func PageURL(scope string) string {
	return "https://" + workshopHost + "/app/" + url.PathEscape(scope) + "/workshop/"
}

// ParseItemURL checks that raw is a workshop item page and returns its id.
func ParseItemURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", &ResolveError{Kind: ErrInvalidReference, Ref: raw, Err: err}
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return "", &ResolveError{Kind: ErrInvalidReference, Ref: raw, Err: fmt.Errorf("unsupported scheme %q", u.Scheme)}
	}
	if !isWorkshopHost(u.Hostname()) {
		return "", &ResolveError{Kind: ErrInvalidReference, Ref: raw, Err: fmt.Errorf("host %q is not %s", u.Hostname(), workshopHost)}
	}
	if !strings.Contains(u.Path, "sharedfiles/filedetails") {
		return "", &ResolveError{Kind: ErrInvalidReference, Ref: raw, Err: errors.New("not a workshop item page")}
	}
	id := u.Query().Get("id")
	if id == "" {
		return "", &ResolveError{Kind: ErrMissingID, Ref: raw}
	}
	return id, nil
}

func (r *Resolver) fetch(ctx context.Context, pageURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	client := r.Client
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}
	return resp.Body, nil
}

func isWorkshopHost(host string) bool {
	host = strings.ToLower(host)
	return host == workshopHost || strings.HasSuffix(host, "."+workshopHost)
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func findAppID(doc *html.Node) (string, bool) {
	node := findNode(doc, func(n *html.Node) bool {
		return n.Data == "div" && attr(n, "id") == "sharedfiles_content_ctn"
	})
	if node == nil {
		return "", false
	}
	return attr(node, "data-miniprofile-appid"), true
}

func findTitle(doc *html.Node) string {
	node := findNode(doc, func(n *html.Node) bool {
		if n.Data != "div" {
			return false
		}
		for _, class := range strings.Fields(attr(n, "class")) {
			if class == "workshopItemTitle" {
				return true
			}
		}
		return false
	})
	if node == nil {
		return ""
	}
	var sb strings.Builder
	collectText(node, &sb)
	return strings.TrimSpace(sb.String())
}

func findNode(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findNode(c, match); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func collectText(n *html.Node, sb *strings.Builder) {
	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, sb)
	}
}
