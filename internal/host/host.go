// Package host implements the host client boundary consumed (never owned)
// by the engine: fetching issue metadata, posting comments (used to embed
// phase markers), and looking up/creating pull requests. Grounded on
// other_examples/uesteibar-ralph's go.mod pairing of
// github.com/google/go-github with golang.org/x/oauth2 for exactly this
// job — reading issues, commenting, and opening PRs against a GitHub-hosted
// project from an agent/automation CLI. The teacher itself talks to its own
// local issue tracker, not a forge API, so this package has no teacher
// source to adapt; it is built directly against go-github's documented
// client shape.
package host

import (
	"context"
	"fmt"
	"time"

	"github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"
)

// Issue is the minimal issue view the engine consumes.
type Issue struct {
	Number   int
	Title    string
	Body     string
	Labels   []string
	Comments []string
}

// Client wraps a go-github client scoped to one owner/repo, with every
// call bounded by a fixed timeout (spec.md §6: "Timeouts of 10-60s").
type Client struct {
	gh          *github.Client
	owner       string
	repo        string
	timeout     time.Duration
	defaultBase string
}

// New constructs a Client authenticated with token (a personal access
// token or GitHub App installation token) against owner/repo. base is the
// branch new PRs target (spec.md §6's --base); it is used as given, with no
// fallback to the repo's default branch when empty.
func New(token, owner, repo, base string, timeout time.Duration) *Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(context.Background(), ts)
	return &Client{gh: github.NewClient(tc), owner: owner, repo: repo, timeout: timeout, defaultBase: base}
}

func (c *Client) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, c.timeout)
}

// IssueView fetches an issue's title, labels, body, and comment bodies.
func (c *Client) IssueView(parent context.Context, iid int) (Issue, error) {
	ctx, cancel := c.ctx(parent)
	defer cancel()

	iss, _, err := c.gh.Issues.Get(ctx, c.owner, c.repo, iid)
	if err != nil {
		return Issue{}, fmt.Errorf("host: get issue #%d: %w", iid, err)
	}

	labels := make([]string, 0, len(iss.Labels))
	for _, l := range iss.Labels {
		labels = append(labels, l.GetName())
	}

	comments, _, err := c.gh.Issues.ListComments(ctx, c.owner, c.repo, iid, nil)
	if err != nil {
		return Issue{}, fmt.Errorf("host: list comments #%d: %w", iid, err)
	}
	bodies := make([]string, 0, len(comments))
	for _, cm := range comments {
		bodies = append(bodies, cm.GetBody())
	}

	return Issue{
		Number:   iid,
		Title:    iss.GetTitle(),
		Body:     iss.GetBody(),
		Labels:   labels,
		Comments: bodies,
	}, nil
}

// Title implements internal/state.TitleFetcher, used to label untracked
// worktrees discovered on disk.
func (c *Client) Title(iid int) (string, error) {
	iss, err := c.IssueView(context.Background(), iid)
	if err != nil {
		return "", err
	}
	return iss.Title, nil
}

// PostComment posts body as a new comment on issue iid, used to embed a
// phase marker.
func (c *Client) PostComment(parent context.Context, iid int, body string) error {
	ctx, cancel := c.ctx(parent)
	defer cancel()
	_, _, err := c.gh.Issues.CreateComment(ctx, c.owner, c.repo, iid, &github.IssueComment{Body: &body})
	if err != nil {
		return fmt.Errorf("host: post comment #%d: %w", iid, err)
	}
	return nil
}

// FindPRByBranch looks up a PR in any state (open, closed, or merged) by its
// head branch name and returns the first one listed.
// Implements internal/worktree.HostClient.
func (c *Client) FindPRByBranch(parent context.Context, branch string) (number int, url string, found bool, err error) {
	ctx, cancel := c.ctx(parent)
	defer cancel()
	prs, _, err := c.gh.PullRequests.List(ctx, c.owner, c.repo, &github.PullRequestListOptions{
		Head:  fmt.Sprintf("%s:%s", c.owner, branch),
		State: "all",
	})
	if err != nil {
		return 0, "", false, fmt.Errorf("host: find PR for branch %s: %w", branch, err)
	}
	if len(prs) == 0 {
		return 0, "", false, nil
	}
	pr := prs[0]
	return pr.GetNumber(), pr.GetHTMLURL(), true, nil
}

// IsPRMerged reports whether PR number is merged, used by startup
// reconciliation.
func (c *Client) IsPRMerged(parent context.Context, number int) (bool, error) {
	ctx, cancel := c.ctx(parent)
	defer cancel()
	pr, _, err := c.gh.PullRequests.Get(ctx, c.owner, c.repo, number)
	if err != nil {
		return false, fmt.Errorf("host: get PR #%d: %w", number, err)
	}
	return pr.GetMerged(), nil
}

// CreatePR opens a pull request from branch onto the base branch passed to
// New. Implements
// internal/worktree.HostClient.
func (c *Client) CreatePR(parent context.Context, branch, title, body string) (number int, url string, err error) {
	ctx, cancel := c.ctx(parent)
	defer cancel()
	pr, _, err := c.gh.PullRequests.Create(ctx, c.owner, c.repo, &github.NewPullRequest{
		Title: &title,
		Head:  &branch,
		Base:  github.String(c.defaultBase),
		Body:  &body,
	})
	if err != nil {
		return 0, "", fmt.Errorf("host: create PR for branch %s: %w", branch, err)
	}
	return pr.GetNumber(), pr.GetHTMLURL(), nil
}
