package executor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	bookLinkSelector = `a[href*="/book/show/"]`
	nextDataSelector = `script#__NEXT_DATA__`
	genreSeparator   = ";"
)

// BookDetails are the fields extracted from a book page.
type BookDetails struct {
	Description   string
	Genres        []string
	PublishedYear string
}

// FirstBookLink returns the absolute URL of the first book link on a search
// results page.
func FirstBookLink(pageURL string, body []byte) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", false
	}
	href, ok := doc.Find(bookLinkSelector).First().Attr("href")
	href = strings.TrimSpace(href)
	if !ok || href == "" {
		return "", false
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return href, true
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	return base.ResolveReference(ref).String(), true
}

// HasNextData reports whether the page carries the embedded Next.js state.
func HasNextData(body []byte) bool {
	return bytes.Contains(body, []byte(`id="__NEXT_DATA__"`))
}

// ExtractBook reads description, genres and publication year from the
// page's __NEXT_DATA__ script. It reports false when the script is absent.
func ExtractBook(body []byte) (BookDetails, bool, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return BookDetails{}, false, fmt.Errorf("parse book page: %w", err)
	}
	raw := strings.TrimSpace(doc.Find(nextDataSelector).First().Text())
	if raw == "" {
		return BookDetails{}, false, nil
	}
	var data nextData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return BookDetails{}, true, fmt.Errorf("decode __NEXT_DATA__: %w", err)
	}
	book := data.book()
	if book == nil {
		return BookDetails{}, true, nil
	}
	return BookDetails{
		Description:   book.description(),
		Genres:        book.genres(),
		PublishedYear: book.publishedYear(),
	}, true, nil
}

type nextData struct {
	Props struct {
		PageProps struct {
			ApolloState map[string]json.RawMessage `json:"apolloState"`
		} `json:"pageProps"`
	} `json:"props"`
}

// book picks the Book entity from the Apollo cache, preferring the entry
// that carries genres. Keys are visited in sorted order for determinism.
func (d nextData) book() apolloBook {
	keys := make([]string, 0, len(d.Props.PageProps.ApolloState))
	for k := range d.Props.PageProps.ApolloState {
		if strings.HasPrefix(k, "Book:") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var fallback apolloBook
	for _, k := range keys {
		var entry apolloBook
		if err := json.Unmarshal(d.Props.PageProps.ApolloState[k], &entry); err != nil {
			continue
		}
		if _, ok := entry["bookGenres"]; ok {
			return entry
		}
		if fallback == nil {
			fallback = entry
		}
	}
	return fallback
}

type apolloBook map[string]json.RawMessage

func (b apolloBook) description() string {
	var text string
	if raw, ok := b[`description({"stripped":true})`]; ok && json.Unmarshal(raw, &text) == nil && text != "" {
		return strings.TrimSpace(text)
	}
	if raw, ok := b["description"]; ok && json.Unmarshal(raw, &text) == nil {
		return stripTags(text)
	}
	return ""
}

func (b apolloBook) genres() []string {
	raw, ok := b["bookGenres"]
	if !ok {
		return nil
	}
	var entries []struct {
		Genre struct {
			Name string `json:"name"`
		} `json:"genre"`
	}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if name := strings.TrimSpace(e.Genre.Name); name != "" {
			out = append(out, name)
		}
	}
	return out
}

func (b apolloBook) publishedYear() string {
	raw, ok := b["details"]
	if !ok {
		return ""
	}
	var details struct {
		PublicationTime *float64 `json:"publicationTime"`
	}
	if err := json.Unmarshal(raw, &details); err != nil || details.PublicationTime == nil {
		return ""
	}
	ts := time.UnixMilli(int64(*details.PublicationTime)).UTC()
	return strconv.Itoa(ts.Year())
}

// stripTags flattens an HTML fragment to its text, keeping <br> as newlines.
func stripTags(fragment string) string {
	if !strings.Contains(fragment, "<") {
		return strings.TrimSpace(fragment)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.TrimSpace(fragment)
	}
	doc.Find("br").ReplaceWithHtml("\n")
	return strings.TrimSpace(doc.Text())
}
