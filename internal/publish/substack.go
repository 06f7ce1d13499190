package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/yangwenmai/softpost/internal/model"
	"github.com/yangwenmai/softpost/internal/validate"
)

// SubstackPublisher creates a post draft and publishes it.
type SubstackPublisher struct {
	transport
	baseURL string
}

// NewSubstackPublisher creates a Substack adapter against baseURL
// (https://substack.com/api/v1 in production).
func NewSubstackPublisher(baseURL string, opts ...Option) *SubstackPublisher {
	if baseURL == "" {
		baseURL = "https://substack.com/api/v1"
	}
	return &SubstackPublisher{
		transport: newTransport(opts),
		baseURL:   strings.TrimRight(baseURL, "/"),
	}
}

var _ Publisher = (*SubstackPublisher)(nil)

func (p *SubstackPublisher) Family() model.Family { return model.FamilySubstack }

type substackDraft struct {
	Title       string   `json:"draft_title"`
	Subtitle    string   `json:"draft_subtitle,omitempty"`
	Body        string   `json:"draft_body"`
	Publication string   `json:"publication"`
	Audience    string   `json:"audience"`
	Type        string   `json:"type"`
	Tags        []string `json:"postTags,omitempty"`
}

type substackPost struct {
	ID           json.Number `json:"id"`
	Slug         string      `json:"slug"`
	CanonicalURL string      `json:"canonical_url"`
}

// Publish creates a draft from the artifact and publishes it to the
// account's publication.
func (p *SubstackPublisher) Publish(ctx context.Context, artifact *model.ContentArtifact, account *model.SocialAccount) (res PostResult) {
	defer recoverResult(p.logger, &res)

	if err := p.checkAccount(account, model.FamilySubstack); err != nil {
		return failure("%v", err)
	}

	content, err := RenderSubstackHTML(artifact)
	if err != nil {
		return failure("render: %v", err)
	}
	draft := substackDraft{
		Title:       artifact.Hook,
		Subtitle:    artifact.TripleS.Hook,
		Body:        content,
		Publication: account.ExternalAccountID,
		Audience:    "everyone",
		Type:        "newsletter",
		Tags:        artifact.SEOTags,
	}
	body, err := json.Marshal(draft)
	if err != nil {
		return failure("marshal draft: %v", err)
	}

	auth := func(req *http.Request) {
		req.AddCookie(&http.Cookie{Name: "substack.sid", Value: account.AccessToken})
	}

	resp, err := p.do(ctx, http.MethodPost, p.baseURL+"/drafts", body, auth)
	if err != nil {
		return withRaw(failure("substack: create draft: %v", err), resp)
	}
	var created substackPost
	if err := json.Unmarshal(resp.Body, &created); err != nil || created.ID == "" {
		return withRaw(failure("substack: draft response carried no id"), resp)
	}

	publishURL := fmt.Sprintf("%s/drafts/%s/publish", p.baseURL, created.ID)
	resp, err = p.do(ctx, http.MethodPost, publishURL, []byte(`{"send":true}`), auth)
	if err != nil {
		return withRaw(failure("substack: publish draft %s: %v", created.ID, err), resp)
	}
	var published substackPost
	_ = json.Unmarshal(resp.Body, &published)

	url := published.CanonicalURL
	if url == "" && published.Slug != "" && account.ExternalAccountID != "" {
		url = fmt.Sprintf("https://%s.substack.com/p/%s", account.ExternalAccountID, published.Slug)
	}

	p.logger.Info("substack post published", "account_id", account.ID, "external_id", created.ID.String())
	return PostResult{
		Success:     true,
		ExternalID:  created.ID.String(),
		ExternalURL: url,
		RawResponse: string(resp.Body),
	}
}

func withRaw(res PostResult, resp *response) PostResult {
	if resp != nil {
		res.RawResponse = string(resp.Body)
	}
	return res
}

// RenderSubstackHTML renders the body paragraphs as <p> elements followed
// by a S.O.F.T. framework summary and the key takeaways.
func RenderSubstackHTML(a *model.ContentArtifact) (string, error) {
	var nodes []*html.Node
	for _, para := range validate.Paragraphs(a.Body) {
		p := element(atom.P, "")
		for i, line := range strings.Split(para, "\n") {
			if i > 0 {
				p.AppendChild(element(atom.Br, ""))
			}
			p.AppendChild(text(strings.TrimSpace(line)))
		}
		nodes = append(nodes, p)
	}

	nodes = append(nodes, element(atom.H3, "The S.O.F.T. framework"))
	soft := element(atom.Ul, "")
	for _, slot := range []struct{ label, value string }{
		{"Story", a.Soft.Story},
		{"Opportunity", a.Soft.Opportunity},
		{"Framework", a.Soft.Framework},
		{"Transformation", a.Soft.Transformation},
	} {
		li := element(atom.Li, "")
		li.AppendChild(element(atom.Strong, slot.label+":"))
		li.AppendChild(text(" " + slot.value))
		soft.AppendChild(li)
	}
	nodes = append(nodes, soft)

	if len(a.TripleS.Takeaways) > 0 {
		nodes = append(nodes, element(atom.H3, "Key takeaways"))
		ul := element(atom.Ul, "")
		for _, t := range a.TripleS.Takeaways {
			ul.AppendChild(element(atom.Li, t))
		}
		nodes = append(nodes, ul)
	}
	if cta := strings.TrimSpace(a.TripleS.CTA); cta != "" {
		p := element(atom.P, "")
		p.AppendChild(element(atom.Em, cta))
		nodes = append(nodes, p)
	}

	var b strings.Builder
	for _, n := range nodes {
		if err := html.Render(&b, n); err != nil {
			return "", err
		}
	}
	return b.String(), nil
}

func element(a atom.Atom, content string) *html.Node {
	n := &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String()}
	if content != "" {
		n.AppendChild(text(content))
	}
	return n
}

func text(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}
