package publish

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/yangwenmai/softpost/internal/model"
)

const (
	// LinkedInMaxChars is the share commentary ceiling.
	LinkedInMaxChars = 3000
	ellipsis         = "…"
	linkedInFeedURL  = "https://www.linkedin.com/feed/update/"
)

// LinkedInPublisher posts UGC shares for personal and organization accounts.
type LinkedInPublisher struct {
	transport
	baseURL string
}

// NewLinkedInPublisher creates a LinkedIn adapter against baseURL
// (https://api.linkedin.com in production).
func NewLinkedInPublisher(baseURL string, opts ...Option) *LinkedInPublisher {
	if baseURL == "" {
		baseURL = "https://api.linkedin.com"
	}
	return &LinkedInPublisher{
		transport: newTransport(opts),
		baseURL:   strings.TrimRight(baseURL, "/"),
	}
}

var _ Publisher = (*LinkedInPublisher)(nil)

func (p *LinkedInPublisher) Family() model.Family { return model.FamilyLinkedIn }

type ugcPost struct {
	Author          string            `json:"author"`
	LifecycleState  string            `json:"lifecycleState"`
	SpecificContent ugcContent        `json:"specificContent"`
	Visibility      map[string]string `json:"visibility"`
}

type ugcContent struct {
	ShareContent struct {
		ShareCommentary struct {
			Text string `json:"text"`
		} `json:"shareCommentary"`
		ShareMediaCategory string `json:"shareMediaCategory"`
	} `json:"com.linkedin.ugc.ShareContent"`
}

// Publish posts the rendered artifact as a public share.
func (p *LinkedInPublisher) Publish(ctx context.Context, artifact *model.ContentArtifact, account *model.SocialAccount) (res PostResult) {
	defer recoverResult(p.logger, &res)

	if err := p.checkAccount(account, model.FamilyLinkedIn); err != nil {
		return failure("%v", err)
	}
	if account.ExternalAccountID == "" {
		return failure("account %s has no LinkedIn member or organization id", account.ID)
	}

	post := ugcPost{
		Author:         authorURN(account),
		LifecycleState: "PUBLISHED",
		Visibility:     map[string]string{"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC"},
	}
	post.SpecificContent.ShareContent.ShareCommentary.Text = RenderLinkedIn(artifact)
	post.SpecificContent.ShareContent.ShareMediaCategory = "NONE"
	body, err := json.Marshal(post)
	if err != nil {
		return failure("marshal share: %v", err)
	}

	resp, err := p.do(ctx, http.MethodPost, p.baseURL+"/v2/ugcPosts", body, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+account.AccessToken)
		req.Header.Set("X-Restli-Protocol-Version", "2.0.0")
	})
	if err != nil {
		res = failure("linkedin: %v", err)
		if resp != nil {
			res.RawResponse = string(resp.Body)
		}
		return res
	}

	id := resp.Header.Get("X-RestLi-Id")
	if id == "" {
		var created struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(resp.Body, &created); err == nil {
			id = created.ID
		}
	}
	if id == "" {
		return PostResult{Error: "linkedin: response carried no post id", RawResponse: string(resp.Body)}
	}

	p.logger.Info("linkedin share published", "account_id", account.ID, "external_id", id)
	return PostResult{
		Success:     true,
		ExternalID:  id,
		ExternalURL: linkedInFeedURL + id,
		RawResponse: string(resp.Body),
	}
}

func authorURN(account *model.SocialAccount) string {
	if account.AccountType == model.AccountOrganization {
		return "urn:li:organization:" + account.ExternalAccountID
	}
	return "urn:li:person:" + account.ExternalAccountID
}

// RenderLinkedIn joins hook, body and hashtags with blank lines and
// truncates the result to LinkedInMaxChars runes, ending with an ellipsis
// when cut.
func RenderLinkedIn(a *model.ContentArtifact) string {
	var parts []string
	if h := strings.TrimSpace(a.Hook); h != "" {
		parts = append(parts, h)
	}
	if b := strings.TrimSpace(a.Body); b != "" {
		parts = append(parts, b)
	}
	if len(a.Hashtags) > 0 {
		parts = append(parts, strings.Join(a.Hashtags, " "))
	}
	return truncate(strings.Join(parts, "\n\n"), LinkedInMaxChars)
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max-utf8.RuneCountInString(ellipsis)]) + ellipsis
}
