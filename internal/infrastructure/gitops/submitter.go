package gitops

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/go-github/v68/github"

	"cacp/internal/bootstrap/logging"
	"cacp/internal/domain/plan"
	"cacp/internal/errs"
	"cacp/internal/ports"
)

var submissionLabels = []string{"automated", "hmac-verified"}

type SubmitterConfig struct {
	Owner       string
	Repo        string
	BaseBranch  string
	Environment string
	Token       string
}

// Submitter opens one pull request per signed proposal in the approval
// repository. Merging that pull request is the approval.
type Submitter struct {
	client *github.Client
	cfg    SubmitterConfig
}

func NewSubmitter(cfg SubmitterConfig) (*Submitter, error) {
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, fmt.Errorf("gitops owner and repo are required")
	}
	if cfg.BaseBranch == "" {
		cfg.BaseBranch = "main"
	}

	client := github.NewClient(nil)
	if cfg.Token != "" {
		client = client.WithAuthToken(cfg.Token)
	}
	return &Submitter{client: client, cfg: cfg}, nil
}

// NewSubmitterWithClient injects a preconfigured API client, used by tests
// pointed at a local server.
func NewSubmitterWithClient(client *github.Client, cfg SubmitterConfig) *Submitter {
	if cfg.BaseBranch == "" {
		cfg.BaseBranch = "main"
	}
	return &Submitter{client: client, cfg: cfg}
}

func branchFor(proposalID string) string {
	return "plan/" + proposalID
}

func manifestPath(environment, proposalID string) string {
	return fmt.Sprintf("environments/%s/plans/%s.yaml", environment, proposalID)
}

// Submit pushes the manifest on a proposal branch and opens the approval
// pull request. A proposal that already has a pull request on its branch
// returns that pull request unchanged, which makes submission safe to
// retry.
func (s *Submitter) Submit(ctx context.Context, proposal plan.Proposal, _ map[string]any) (ports.SubmissionResult, error) {
	branch := branchFor(proposal.ProposalID)

	if existing, found, err := s.findExisting(ctx, branch); err != nil {
		return ports.SubmissionResult{}, err
	} else if found {
		logging.Info(ctx, "proposal already submitted",
			slog.String("proposal_id", proposal.ProposalID),
			slog.Int("pr_number", existing.PRNumber))
		return existing, nil
	}

	manifest, err := NewManifest(proposal, s.cfg.Environment).YAML()
	if err != nil {
		return ports.SubmissionResult{}, err
	}

	if err := s.ensureBranch(ctx, branch); err != nil {
		return ports.SubmissionResult{}, err
	}

	path := manifestPath(s.cfg.Environment, proposal.ProposalID)
	message := fmt.Sprintf("Add plan manifest %s", proposal.ProposalID)
	_, _, err = s.client.Repositories.CreateFile(ctx, s.cfg.Owner, s.cfg.Repo, path, &github.RepositoryContentFileOptions{
		Message: github.Ptr(message),
		Content: manifest,
		Branch:  github.Ptr(branch),
	})
	if err != nil {
		return ports.SubmissionResult{}, errs.Wrap(err, "create manifest file")
	}

	title := fmt.Sprintf("Plan %s (%s risk, clinic %s)", proposal.ProposalID, proposal.RiskTier, proposal.ClinicID)
	body := fmt.Sprintf(
		"Automated outreach plan awaiting approval.\n\n"+
			"- Appointment: %s\n- Risk: %s (%.4f)\n- Actions: %d\n- Signature: `%s`\n\n"+
			"Merging this pull request approves execution.",
		proposal.AppointmentID, proposal.RiskTier, proposal.RiskScore, len(proposal.Actions), shortSignature(proposal.Signature))
	pr, _, err := s.client.PullRequests.Create(ctx, s.cfg.Owner, s.cfg.Repo, &github.NewPullRequest{
		Title: github.Ptr(title),
		Head:  github.Ptr(branch),
		Base:  github.Ptr(s.cfg.BaseBranch),
		Body:  github.Ptr(body),
	})
	if err != nil {
		return ports.SubmissionResult{}, errs.Wrap(err, "create pull request")
	}

	if _, _, err := s.client.Issues.AddLabelsToIssue(ctx, s.cfg.Owner, s.cfg.Repo, pr.GetNumber(), submissionLabels); err != nil {
		// Labels are advisory; the pull request itself is what matters.
		logging.Warn(ctx, "label pull request", slog.Any("err", errs.Loggable(err)))
	}

	return ports.SubmissionResult{
		PRNumber: pr.GetNumber(),
		PRURL:    pr.GetHTMLURL(),
		Branch:   branch,
	}, nil
}

func (s *Submitter) findExisting(ctx context.Context, branch string) (ports.SubmissionResult, bool, error) {
	prs, _, err := s.client.PullRequests.List(ctx, s.cfg.Owner, s.cfg.Repo, &github.PullRequestListOptions{
		State: "all",
		Head:  s.cfg.Owner + ":" + branch,
	})
	if err != nil {
		return ports.SubmissionResult{}, false, errs.Wrap(err, "list pull requests")
	}
	if len(prs) == 0 {
		return ports.SubmissionResult{}, false, nil
	}
	pr := prs[0]
	return ports.SubmissionResult{
		PRNumber: pr.GetNumber(),
		PRURL:    pr.GetHTMLURL(),
		Branch:   branch,
	}, true, nil
}

func (s *Submitter) ensureBranch(ctx context.Context, branch string) error {
	base, _, err := s.client.Git.GetRef(ctx, s.cfg.Owner, s.cfg.Repo, "refs/heads/"+s.cfg.BaseBranch)
	if err != nil {
		return errs.Wrap(err, "resolve base branch")
	}

	_, resp, err := s.client.Git.CreateRef(ctx, s.cfg.Owner, s.cfg.Repo, &github.Reference{
		Ref:    github.Ptr("refs/heads/" + branch),
		Object: &github.GitObject{SHA: base.Object.SHA},
	})
	if err != nil {
		// The branch surviving an earlier partial submission is fine.
		if resp != nil && resp.StatusCode == http.StatusUnprocessableEntity &&
			strings.Contains(err.Error(), "already exists") {
			return nil
		}
		return errs.Wrap(err, "create branch")
	}
	return nil
}

func shortSignature(signature string) string {
	if len(signature) <= 16 {
		return signature
	}
	return signature[:16] + "..."
}
