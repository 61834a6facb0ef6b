package engine

import (
	"net/url"
	"strings"

	"github.com/Joseda-hg/notegrid/internal/model"
)

type LinkDraft struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Favicon string `json:"favicon"`
}

// AddLink appends a link. URLs without a scheme get https://, and a missing
// title or favicon is derived from the host. An empty URL is a no-op.
func (e *Engine) AddLink(draft LinkDraft) (model.Link, bool) {
	raw := strings.TrimSpace(draft.URL)
	if raw == "" {
		return model.Link{}, false
	}
	link := describeLink(raw)
	if title := strings.TrimSpace(draft.Title); title != "" {
		link.Title = title
	}
	if favicon := strings.TrimSpace(draft.Favicon); favicon != "" {
		link.Favicon = favicon
	}

	ok := e.mutate("add_link", func(data *model.UserData, now int64) bool {
		link.ID = e.newID()
		link.CreatedAt = now
		data.Links = append(data.Links, link)
		return true
	})
	if !ok {
		return model.Link{}, false
	}
	return link, true
}

func (e *Engine) DeleteLink(id string) bool {
	return e.mutate("delete_link", func(data *model.UserData, _ int64) bool {
		for i, link := range data.Links {
			if link.ID == id {
				data.Links = append(data.Links[:i:i], data.Links[i+1:]...)
				return true
			}
		}
		return false
	})
}

func (e *Engine) ReorderLinks(ids []string) bool {
	return e.mutate("reorder_links", func(data *model.UserData, _ int64) bool {
		data.Links = reorder(data.Links, ids, func(l model.Link) string { return l.ID })
		return true
	})
}

func describeLink(raw string) model.Link {
	target := raw
	if !strings.HasPrefix(target, "http") {
		target = "https://" + target
	}

	link := model.Link{URL: target, Title: raw}
	parsed, err := url.Parse(target)
	if err != nil || parsed.Hostname() == "" {
		return link
	}
	link.Title = parsed.Hostname()
	link.Favicon = "https://www.google.com/s2/favicons?domain=" + url.QueryEscape(parsed.Hostname()) + "&sz=64"
	return link
}
