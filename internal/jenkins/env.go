// Package jenkins reads the build environment Jenkins exposes to sh steps.
package jenkins

import (
	"fmt"
	"os"
	"strings"
)

// EnvVar names a Jenkins-provided environment variable.
type EnvVar string

const (
	VarBuildNumber EnvVar = "BUILD_NUMBER"
	VarBuildID     EnvVar = "BUILD_ID"
	VarBuildURL    EnvVar = "BUILD_URL"
	VarBuildTag    EnvVar = "BUILD_TAG"
	VarJobName     EnvVar = "JOB_NAME"
	VarJenkinsURL  EnvVar = "JENKINS_URL"
	VarWorkspace   EnvVar = "WORKSPACE"
	VarGitCommit   EnvVar = "GIT_COMMIT"
	VarGitURL      EnvVar = "GIT_URL"
	VarGitBranch   EnvVar = "GIT_BRANCH"
	VarBranchName  EnvVar = "BRANCH_NAME"
	VarChangeID    EnvVar = "CHANGE_ID"
)

// Env is a snapshot of the Jenkins build environment.
type Env struct {
	BuildNumber string
	BuildURL    string
	BuildTag    string
	JobName     string
	JenkinsURL  string
	Workspace   string
	GitCommit   string
	GitURL      string
	Branch      string
	ChangeID    string
}

// Detect reads the environment of the current process.
func Detect() Env {
	return FromLookup(os.Getenv)
}

// FromLookup builds an Env from an arbitrary lookup function.
func FromLookup(getenv func(string) string) Env {
	get := func(v EnvVar) string { return getenv(string(v)) }

	e := Env{
		BuildNumber: get(VarBuildNumber),
		BuildURL:    get(VarBuildURL),
		BuildTag:    get(VarBuildTag),
		JobName:     get(VarJobName),
		JenkinsURL:  get(VarJenkinsURL),
		Workspace:   get(VarWorkspace),
		GitCommit:   get(VarGitCommit),
		GitURL:      get(VarGitURL),
		ChangeID:    get(VarChangeID),
	}
	if e.BuildNumber == "" {
		// BUILD_ID only differs from BUILD_NUMBER on very old Jenkins releases
		e.BuildNumber = get(VarBuildID)
	}
	// Multibranch jobs set BRANCH_NAME; freestyle jobs only have GIT_BRANCH (origin/main)
	e.Branch = get(VarBranchName)
	if e.Branch == "" {
		e.Branch = strings.TrimPrefix(get(VarGitBranch), "origin/")
	}
	return e
}

// IsJenkins reports whether the process appears to run under Jenkins.
func (e Env) IsJenkins() bool {
	return e.JenkinsURL != "" || strings.HasPrefix(e.BuildTag, "jenkins-")
}

// IsPullRequest reports whether this is a multibranch PR build.
func (e Env) IsPullRequest() bool {
	return e.ChangeID != ""
}

// BuildLabel identifies the build in logs and quarantine history, e.g. "reasonbridge/main#42".
func (e Env) BuildLabel() string {
	if e.JobName == "" && e.BuildNumber == "" {
		return "local"
	}
	return fmt.Sprintf("%s#%s", e.JobName, e.BuildNumber)
}

// OwnerRepo extracts the GitHub owner and repository from GIT_URL.
// Both https://github.com/o/r(.git) and git@github.com:o/r(.git) forms are accepted.
func (e Env) OwnerRepo() (string, string, error) {
	return ParseOwnerRepo(e.GitURL)
}

// ParseOwnerRepo splits a GitHub remote URL into owner and repository.
func ParseOwnerRepo(remote string) (string, string, error) {
	s := strings.TrimSpace(remote)
	s = strings.TrimSuffix(s, "/")
	s = strings.TrimSuffix(s, ".git")

	switch {
	case strings.HasPrefix(s, "git@"):
		idx := strings.Index(s, ":")
		if idx < 0 {
			return "", "", fmt.Errorf("invalid ssh remote %q", remote)
		}
		s = s[idx+1:]
	case strings.Contains(s, "://"):
		s = s[strings.Index(s, "://")+3:]
		idx := strings.Index(s, "/")
		if idx < 0 {
			return "", "", fmt.Errorf("invalid remote %q", remote)
		}
		s = s[idx+1:]
	}

	parts := strings.Split(s, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("cannot determine owner/repo from %q", remote)
	}
	return parts[0], parts[1], nil
}
