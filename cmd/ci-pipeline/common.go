package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/reillywatson/cipipeline/internal/github"
	"github.com/reillywatson/cipipeline/internal/jenkins"
	"github.com/reillywatson/cipipeline/internal/shell"
)

// githubOptions are shared by commands that report to GitHub
type githubOptions struct {
	repo string
	sha  string
}

func (o *githubOptions) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.repo, "repo", "", "GitHub repository as owner/repo (defaults to GIT_URL)")
	fs.StringVar(&o.sha, "sha", "", "Commit SHA (defaults to GIT_COMMIT)")
}

// reporter builds a GitHub status reporter from flags and the Jenkins
// environment. Without GITHUB_TOKEN it only logs.
func (o *githubOptions) reporter(env jenkins.Env) (*github.Reporter, error) {
	var owner, repo string
	var err error
	if o.repo != "" {
		owner, repo, err = jenkins.ParseOwnerRepo(o.repo)
	} else if env.GitURL != "" {
		owner, repo, err = env.OwnerRepo()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errUsage, err)
	}

	sha := o.sha
	if sha == "" {
		sha = env.GitCommit
	}
	commit := github.Commit{Owner: owner, Repo: repo, SHA: sha}

	token := os.Getenv("GITHUB_TOKEN")
	if token == "" || owner == "" {
		logrus.Debug("GITHUB_TOKEN or repository not set, GitHub reporting disabled")
		return github.NewReporter(nil, commit, env.BuildURL), nil
	}

	client := github.NewGitHubClient(token)
	if apiURL := os.Getenv("GITHUB_API_URL"); apiURL != "" {
		if client, err = client.WithBaseURL(apiURL); err != nil {
			return nil, err
		}
	}
	return github.NewReporter(client, commit, env.BuildURL), nil
}

// prNumber returns the pull request number of a multibranch PR build, or 0
func prNumber(env jenkins.Env) int {
	n, err := strconv.Atoi(env.ChangeID)
	if err != nil {
		return 0
	}
	return n
}

func inWorkspace(root *rootOptions, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root.workspace, path)
}

func parsePorts(values []string) ([]int, error) {
	var ports []int
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			p, err := strconv.Atoi(part)
			if err != nil || p <= 0 || p > 65535 {
				return nil, fmt.Errorf("%w: invalid port %q", errUsage, part)
			}
			ports = append(ports, p)
		}
	}
	return ports, nil
}

func newRunner() shell.Runner {
	return shell.NewExecRunner()
}
