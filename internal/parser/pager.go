package parser

import (
	"bytes"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/cert-registry-crawler/internal/crawler"
)

const (
	lastPageSelector = "li.pager__item--last a"
	pageParam        = "page"
)

// LastPageIndex reads the page query parameter from the pager's last-page
// link. It returns crawler.ErrPaginationNotFound when the link is missing or
// its page parameter is missing or not a non-negative integer.
func LastPageIndex(body []byte) (int, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("parse html: %w", err)
	}
	href, ok := doc.Find(lastPageSelector).First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return 0, crawler.ErrPaginationNotFound
	}
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return 0, fmt.Errorf("parse pager href %q: %w", href, err)
	}
	raw := u.Query().Get(pageParam)
	if raw == "" {
		return 0, fmt.Errorf("%w: no %s parameter in %q", crawler.ErrPaginationNotFound, pageParam, href)
	}
	page, err := strconv.Atoi(raw)
	if err != nil || page < 0 {
		return 0, fmt.Errorf("%w: invalid page index %q in %q", crawler.ErrPaginationNotFound, raw, href)
	}
	return page, nil
}
