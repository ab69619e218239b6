package github

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Reporter publishes statuses for one commit. Failures to reach GitHub are
// logged and swallowed: status reporting never fails a build.
type Reporter struct {
	client    GitHubClientInterface
	commit    Commit
	targetURL string
	log       *logrus.Entry
}

// NewReporter returns a reporter for commit. A nil client yields a reporter
// that only logs, which is what local runs without GITHUB_TOKEN get.
func NewReporter(client GitHubClientInterface, commit Commit, targetURL string) *Reporter {
	return &Reporter{
		client:    client,
		commit:    commit,
		targetURL: targetURL,
		log: logrus.WithFields(logrus.Fields{
			"repo": commit.Owner + "/" + commit.Repo,
			"sha":  shortSHA(commit.SHA),
		}),
	}
}

// Report sets the status for statusContext
func (r *Reporter) Report(ctx context.Context, statusContext string, state State, description string) {
	log := r.log.WithFields(logrus.Fields{"context": statusContext, "state": state})
	if r.client == nil || r.commit.SHA == "" {
		log.Debug("GitHub reporting disabled, skipping status")
		return
	}
	err := r.client.SetStatus(ctx, r.commit, Status{
		State:       state,
		Context:     statusContext,
		Description: description,
		TargetURL:   r.targetURL,
	})
	if err != nil {
		log.WithError(err).Warn("Failed to report GitHub status")
		return
	}
	log.Info("Reported GitHub status")
}

// Comment posts a PR comment; pr <= 0 means this is not a PR build
func (r *Reporter) Comment(ctx context.Context, pr int, body string) {
	if r.client == nil || pr <= 0 {
		return
	}
	if err := r.client.Comment(ctx, r.commit.Owner, r.commit.Repo, pr, body); err != nil {
		r.log.WithError(err).WithField("pr", pr).Warn("Failed to comment on pull request")
	}
}
