package extractor

import (
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/media-scraper/internal/scrape"
)

const (
	// MaxAltLength caps alt text, in runes.
	MaxAltLength = 1000
	// MaxTitleLength caps titles, in runes.
	MaxTitleLength = 500
)

var (
	backgroundURL = regexp.MustCompile(`url\(\s*['"]?([^'"()]+?)['"]?\s*\)`)

	imageExtensions = map[string]struct{}{
		".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {},
		".webp": {}, ".svg": {}, ".bmp": {}, ".ico": {}, ".avif": {},
	}

	embedHosts = []string{
		"youtube.com",
		"youtube-nocookie.com",
		"youtu.be",
		"vimeo.com",
		"player.vimeo.com",
		"dailymotion.com",
	}
)

// HTMLExtractor implements scrape.Extractor. It holds no state and is safe for
// concurrent use.
type HTMLExtractor struct{}

// New returns an HTMLExtractor.
func New() *HTMLExtractor {
	return &HTMLExtractor{}
}

// Extract returns media candidates in document scan order with duplicates removed.
func (e *HTMLExtractor) Extract(html string, baseURL string) ([]scrape.MediaCandidate, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, &scrape.ExtractionError{URL: baseURL, Err: err}
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, &scrape.ExtractionError{URL: baseURL, Err: err}
	}

	c := &collector{base: base, seen: make(map[string]struct{})}

	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		meta := metadata{
			alt:    attrText(s, "alt", MaxAltLength),
			title:  attrText(s, "title", MaxTitleLength),
			width:  attrInt(s, "width"),
			height: attrInt(s, "height"),
		}
		c.add(s.AttrOr("src", ""), scrape.MediaTypeImage, meta)
		c.add(s.AttrOr("data-src", ""), scrape.MediaTypeImage, meta)
		for _, ref := range parseSrcset(s.AttrOr("srcset", "")) {
			c.add(ref, scrape.MediaTypeImage, meta)
		}
	})

	doc.Find("picture source[srcset]").Each(func(_ int, s *goquery.Selection) {
		for _, ref := range parseSrcset(s.AttrOr("srcset", "")) {
			c.add(ref, scrape.MediaTypeImage, metadata{})
		}
	})

	doc.Find("video").Each(func(_ int, s *goquery.Selection) {
		meta := metadata{
			title:  attrText(s, "title", MaxTitleLength),
			width:  attrInt(s, "width"),
			height: attrInt(s, "height"),
		}
		c.add(s.AttrOr("src", ""), scrape.MediaTypeVideo, meta)
		c.add(s.AttrOr("poster", ""), scrape.MediaTypeImage, meta)
		s.Find("source[src]").Each(func(_ int, src *goquery.Selection) {
			c.add(src.AttrOr("src", ""), scrape.MediaTypeVideo, meta)
		})
	})

	doc.Find("iframe[src]").Each(func(_ int, s *goquery.Selection) {
		ref, ok := c.resolve(s.AttrOr("src", ""))
		if !ok || !isEmbedHost(ref.Hostname()) {
			return
		}
		c.push(ref.String(), scrape.MediaTypeVideo, metadata{
			title:  attrText(s, "title", MaxTitleLength),
			width:  attrInt(s, "width"),
			height: attrInt(s, "height"),
		})
	})

	doc.Find("[style]").Each(func(_ int, s *goquery.Selection) {
		style := s.AttrOr("style", "")
		if !strings.Contains(strings.ToLower(style), "background") {
			return
		}
		for _, m := range backgroundURL.FindAllStringSubmatch(style, -1) {
			ref, ok := c.resolve(m[1])
			if !ok || !looksLikeImage(ref) {
				continue
			}
			c.push(ref.String(), scrape.MediaTypeImage, metadata{})
		}
	})

	ogTitle := metadata{title: truncate(metaContent(doc, "og:title"), MaxTitleLength)}
	doc.Find(`meta[property="og:image"]`).Each(func(_ int, s *goquery.Selection) {
		c.add(s.AttrOr("content", ""), scrape.MediaTypeImage, ogTitle)
	})
	doc.Find(`meta[property="og:video"]`).Each(func(_ int, s *goquery.Selection) {
		c.add(s.AttrOr("content", ""), scrape.MediaTypeVideo, ogTitle)
	})

	return c.out, nil
}

type metadata struct {
	alt    *string
	title  *string
	width  *int
	height *int
}

type collector struct {
	base *url.URL
	seen map[string]struct{}
	out  []scrape.MediaCandidate
}

func (c *collector) add(raw string, kind scrape.MediaType, meta metadata) {
	ref, ok := c.resolve(raw)
	if !ok {
		return
	}
	c.push(ref.String(), kind, meta)
}

func (c *collector) push(abs string, kind scrape.MediaType, meta metadata) {
	if _, dup := c.seen[abs]; dup {
		return
	}
	c.seen[abs] = struct{}{}
	c.out = append(c.out, scrape.MediaCandidate{
		URL:    abs,
		Type:   kind,
		Alt:    meta.alt,
		Title:  meta.title,
		Width:  meta.width,
		Height: meta.height,
	})
}

// resolve applies RFC 3986 reference resolution and keeps http(s) results only.
func (c *collector) resolve(raw string) (*url.URL, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return nil, false
	}
	abs := c.base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return nil, false
	}
	if abs.Host == "" {
		return nil, false
	}
	return abs, true
}

// parseSrcset returns the URL of each srcset candidate. A candidate URL runs
// to the next whitespace, so commas inside a URL are kept; descriptors run to
// the next comma outside parentheses.
func parseSrcset(srcset string) []string {
	var refs []string
	rest := srcset
	for {
		rest = strings.TrimLeft(rest, srcsetSpace+",")
		if rest == "" {
			return refs
		}
		end := strings.IndexAny(rest, srcsetSpace)
		if end < 0 {
			end = len(rest)
		}
		raw := rest[:end]
		rest = rest[end:]
		if trimmed := strings.TrimRight(raw, ","); trimmed != raw {
			// "a.png," has no descriptors.
			if trimmed != "" {
				refs = append(refs, trimmed)
			}
			continue
		}
		refs = append(refs, raw)
		rest = skipDescriptors(rest)
	}
}

const srcsetSpace = " \t\n\r\f"

func skipDescriptors(s string) string {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				return s[i+1:]
			}
		}
	}
	return ""
}

func isEmbedHost(host string) bool {
	host = strings.ToLower(strings.TrimPrefix(host, "www."))
	for _, allowed := range embedHosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

func looksLikeImage(u *url.URL) bool {
	_, ok := imageExtensions[strings.ToLower(path.Ext(u.Path))]
	return ok
}

func metaContent(doc *goquery.Document, property string) string {
	return strings.TrimSpace(doc.Find(`meta[property="` + property + `"]`).First().AttrOr("content", ""))
}

func attrText(s *goquery.Selection, name string, limit int) *string {
	v, ok := s.Attr(name)
	if !ok {
		return nil
	}
	return truncate(strings.TrimSpace(v), limit)
}

// attrInt reads leading digits, so "640px" yields 640.
func attrInt(s *goquery.Selection, name string) *int {
	v := strings.TrimSpace(s.AttrOr(name, ""))
	end := 0
	for end < len(v) && v[end] >= '0' && v[end] <= '9' {
		end++
	}
	if end == 0 {
		return nil
	}
	n, err := strconv.Atoi(v[:end])
	if err != nil {
		return nil
	}
	return &n
}

func truncate(v string, limit int) *string {
	if v == "" {
		return nil
	}
	if utf8.RuneCountInString(v) > limit {
		v = string([]rune(v)[:limit])
	}
	return &v
}
