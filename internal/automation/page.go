package automation

import (
	"fmt"
	"net/url"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

const maxPageLinks = 60

// Link is an anchor found on the observed page
type Link struct {
	Text string
	Href string
}

// Page is what the planner sees of the current tab
type Page struct {
	URL      string
	Title    string
	Markdown string
	Links    []Link
}

// ParsePage strips non-content elements, collects absolute links and converts
// the body to markdown truncated to maxChars runes
func ParsePage(pageURL, title, html string, maxChars int) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse page html: %w", err)
	}

	doc.Find("script, style, noscript, svg, iframe, template").Remove()

	base, _ := url.Parse(pageURL)
	page := &Page{URL: pageURL, Title: strings.TrimSpace(title)}
	if page.Title == "" {
		page.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	seen := map[string]bool{}
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		abs := absoluteURL(base, href)
		if abs == "" || seen[abs] {
			return true
		}
		seen[abs] = true
		page.Links = append(page.Links, Link{
			Text: strings.Join(strings.Fields(s.Text()), " "),
			Href: abs,
		})
		return len(page.Links) < maxPageLinks
	})

	body := doc.Find("body")
	var fragment string
	if body.Length() > 0 {
		fragment, err = body.Html()
	} else {
		fragment, err = doc.Html()
	}
	if err != nil {
		return nil, fmt.Errorf("render page html: %w", err)
	}

	domain := ""
	if base != nil && base.Host != "" {
		domain = base.Scheme + "://" + base.Host
	}
	markdown, err := md.NewConverter(domain, true, nil).ConvertString(fragment)
	if err != nil {
		return nil, fmt.Errorf("convert page to markdown: %w", err)
	}
	page.Markdown = truncateRunes(strings.TrimSpace(markdown), maxChars)

	return page, nil
}

func absoluteURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	u.Fragment = ""
	return u.String()
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "\n[...]"
}
