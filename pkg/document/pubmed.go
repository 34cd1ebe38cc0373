package document

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/medhash-labs/medhash/pkg/ratelimit"
	"github.com/medhash-labs/medhash/pkg/resiliency"
)

// limiterKey names the PubMed integration in the shared rate limiter.
const limiterKey = "pubmed"

var tagPattern = regexp.MustCompile(`<[^>]+>`)

// Retriever fetches documents from the PubMed eutils API. Every network
// call goes through the rate limiter first; timeouts and server-side
// failures are retried with exponential backoff.
type Retriever struct {
	baseURL   string
	userAgent string
	client    *http.Client
	limiter   *ratelimit.Limiter
	retry     resiliency.RetryPolicy
	timeout   time.Duration
	cache     Cache
	logger    *slog.Logger
}

// NewRetriever wires a Retriever. Pass a NopCache when caching is off.
func NewRetriever(baseURL, userAgent string, timeout time.Duration, limiter *ratelimit.Limiter, retry resiliency.RetryPolicy, cache Cache, logger *slog.Logger) *Retriever {
	if cache == nil {
		cache = NopCache{}
	}
	return &Retriever{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		client:    &http.Client{Timeout: timeout},
		limiter:   limiter,
		retry:     retry,
		timeout:   timeout,
		cache:     cache,
		logger:    logger.With("component", "document"),
	}
}

// Fetch retrieves the document for id: metadata via esummary, abstract
// text via efetch. The cache is consulted first and populated on
// success; cache failures are logged and never surfaced.
func (r *Retriever) Fetch(ctx context.Context, id string) (*SourceDocument, error) {
	if doc, ok := r.cache.Get(ctx, id); ok {
		r.logger.DebugContext(ctx, "cache hit", "id", id)
		return doc, nil
	}

	meta, err := r.fetchSummary(ctx, id)
	if err != nil {
		return nil, err
	}

	abstract, err := r.fetchAbstract(ctx, id)
	if err != nil {
		return nil, err
	}

	doc := &SourceDocument{
		ID:        id,
		Title:     meta.Title,
		BodyText:  abstract,
		Metadata:  meta.fields(),
		FetchedAt: time.Now().UTC(),
	}
	r.cache.Set(ctx, doc)
	return doc, nil
}

type summaryMeta struct {
	Title   string
	Authors []string
	Journal string
	PubDate string
	DOI     string
	PMCID   string
}

func (m *summaryMeta) fields() map[string]string {
	md := map[string]string{
		"journal": m.Journal,
		"pubdate": m.PubDate,
		"doi":     m.DOI,
	}
	if len(m.Authors) > 0 {
		md["authors"] = strings.Join(m.Authors, "; ")
	}
	if m.PMCID != "" {
		md["pmcid"] = m.PMCID
	}
	return md
}

func (r *Retriever) fetchSummary(ctx context.Context, id string) (*summaryMeta, error) {
	endpoint := fmt.Sprintf("%s/esummary.fcgi?db=pubmed&id=%s&retmode=json", r.baseURL, url.QueryEscape(id))

	var meta *summaryMeta
	err := r.retry.Do(ctx, func(ctx context.Context) error {
		body, err := r.get(ctx, endpoint)
		if err != nil {
			return err
		}

		var payload struct {
			Result map[string]json.RawMessage `json:"result"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return resiliency.Permanent(fmt.Errorf("%w: esummary parse: %v", ErrUpstream, err))
		}

		raw, ok := payload.Result[id]
		if !ok {
			return resiliency.Permanent(ErrNotFound)
		}

		var entry struct {
			Error       string `json:"error"`
			Title       string `json:"title"`
			FullJournal string `json:"fulljournalname"`
			PubDate     string `json:"pubdate"`
			ELocationID string `json:"elocationid"`
			PMCID       string `json:"pmcid"`
			Authors     []struct {
				Name string `json:"name"`
			} `json:"authors"`
		}
		if err := json.Unmarshal(raw, &entry); err != nil {
			return resiliency.Permanent(fmt.Errorf("%w: esummary entry parse: %v", ErrUpstream, err))
		}
		if entry.Error != "" {
			return resiliency.Permanent(ErrNotFound)
		}

		m := &summaryMeta{
			Title:   entry.Title,
			Journal: entry.FullJournal,
			PubDate: entry.PubDate,
			DOI:     strings.TrimPrefix(entry.ELocationID, "doi: "),
			PMCID:   entry.PMCID,
		}
		for _, a := range entry.Authors {
			if a.Name != "" {
				m.Authors = append(m.Authors, a.Name)
			}
		}
		meta = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return meta, nil
}

// efetch XML shapes. AbstractText is mixed content (italics, sub/sup
// markup inside the text), so we take the inner XML and strip tags.
type efetchArticleSet struct {
	Articles []struct {
		Citation struct {
			Article struct {
				Abstract struct {
					Sections []abstractSection `xml:"AbstractText"`
				} `xml:"Abstract"`
				OtherAbstracts []struct {
					Sections []abstractSection `xml:"AbstractText"`
				} `xml:"OtherAbstract"`
			} `xml:"Article"`
		} `xml:"MedlineCitation"`
	} `xml:"PubmedArticle"`
	Books []struct {
		Document struct {
			Book struct {
				Title string `xml:"BookTitle"`
			} `xml:"Book"`
		} `xml:"BookDocument"`
	} `xml:"PubmedBookArticle"`
}

type abstractSection struct {
	Label string `xml:"Label,attr"`
	Text  string `xml:",innerxml"`
}

func (r *Retriever) fetchAbstract(ctx context.Context, id string) (string, error) {
	endpoint := fmt.Sprintf("%s/efetch.fcgi?db=pubmed&id=%s&retmode=xml&rettype=abstract", r.baseURL, url.QueryEscape(id))

	var abstract string
	err := r.retry.Do(ctx, func(ctx context.Context) error {
		body, err := r.get(ctx, endpoint)
		if err != nil {
			return err
		}

		var set efetchArticleSet
		if err := xml.Unmarshal(body, &set); err != nil {
			return resiliency.Permanent(fmt.Errorf("%w: efetch parse: %v", ErrUpstream, err))
		}
		abstract = assembleAbstract(&set)
		return nil
	})
	if err != nil {
		return "", err
	}
	return abstract, nil
}

func assembleAbstract(set *efetchArticleSet) string {
	var parts []string
	for _, art := range set.Articles {
		for _, sec := range art.Citation.Article.Abstract.Sections {
			text := strings.TrimSpace(tagPattern.ReplaceAllString(sec.Text, ""))
			if text == "" {
				continue
			}
			if sec.Label != "" {
				parts = append(parts, fmt.Sprintf("**%s:** %s", sec.Label, text))
			} else {
				parts = append(parts, text)
			}
		}
		for _, other := range art.Citation.Article.OtherAbstracts {
			for _, sec := range other.Sections {
				if text := strings.TrimSpace(tagPattern.ReplaceAllString(sec.Text, "")); text != "" {
					parts = append(parts, text)
				}
			}
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, "\n\n")
	}

	for _, book := range set.Books {
		if title := strings.TrimSpace(book.Document.Book.Title); title != "" {
			return "This is a book chapter from: " + title
		}
	}
	return "Abstract not available for this article."
}

// get performs one rate-limited HTTP request and classifies the outcome
// into the package error taxonomy.
func (r *Retriever) get(ctx context.Context, endpoint string) ([]byte, error) {
	decision, err := r.limiter.TryAcquire(ctx, limiterKey)
	if err != nil {
		return nil, fmt.Errorf("document: rate limiter: %w", err)
	}
	if !decision.Granted {
		return nil, resiliency.Permanent(&RateLimitedError{RetryAfter: decision.RetryAfter})
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, resiliency.Permanent(fmt.Errorf("%w: build request: %v", ErrUpstream, err))
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, resiliency.Permanent(ErrNotFound)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	default:
		return nil, resiliency.Permanent(fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUpstream, err)
	}
	return body, nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
