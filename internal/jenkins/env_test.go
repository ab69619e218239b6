package jenkins

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func lookup(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromLookup(t *testing.T) {
	env := FromLookup(lookup(map[string]string{
		"BUILD_ID":    "17",
		"JOB_NAME":    "reasonbridge/PR-12",
		"JENKINS_URL": "https://ci.example.com/",
		"GIT_BRANCH":  "origin/feature/x",
		"CHANGE_ID":   "12",
	}))

	want := Env{
		BuildNumber: "17",
		JobName:     "reasonbridge/PR-12",
		JenkinsURL:  "https://ci.example.com/",
		Branch:      "feature/x",
		ChangeID:    "12",
	}
	if diff := cmp.Diff(want, env); diff != "" {
		t.Errorf("unexpected env (-want +got):\n%s", diff)
	}
	if !env.IsJenkins() {
		t.Error("expected IsJenkins to be true")
	}
	if !env.IsPullRequest() {
		t.Error("expected IsPullRequest to be true")
	}
	if got := env.BuildLabel(); got != "reasonbridge/PR-12#17" {
		t.Errorf("unexpected build label %q", got)
	}
}

func TestBranchNamePreferred(t *testing.T) {
	env := FromLookup(lookup(map[string]string{
		"BRANCH_NAME": "main",
		"GIT_BRANCH":  "origin/other",
		"BUILD_TAG":   "jenkins-reasonbridge-main-3",
	}))
	if env.Branch != "main" {
		t.Errorf("expected branch main, got %q", env.Branch)
	}
	if !env.IsJenkins() {
		t.Error("expected BUILD_TAG prefix to identify Jenkins")
	}
	if env.IsPullRequest() {
		t.Error("expected branch build")
	}
}

func TestBuildLabelLocal(t *testing.T) {
	if got := FromLookup(lookup(nil)).BuildLabel(); got != "local" {
		t.Errorf("expected local, got %q", got)
	}
}

func TestParseOwnerRepo(t *testing.T) {
	tests := []struct {
		remote    string
		owner     string
		repo      string
		expectErr bool
	}{
		{remote: "https://github.com/reasonbridge/app.git", owner: "reasonbridge", repo: "app"},
		{remote: "https://github.com/reasonbridge/app", owner: "reasonbridge", repo: "app"},
		{remote: "git@github.com:uniteDiscord/web.git", owner: "uniteDiscord", repo: "web"},
		{remote: "reasonbridge/app", owner: "reasonbridge", repo: "app"},
		{remote: "https://github.com/onlyowner", expectErr: true},
		{remote: "", expectErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.remote, func(t *testing.T) {
			owner, repo, err := ParseOwnerRepo(tc.remote)
			if tc.expectErr {
				if err == nil {
					t.Fatalf("expected error for %q", tc.remote)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if owner != tc.owner || repo != tc.repo {
				t.Errorf("got %s/%s, want %s/%s", owner, repo, tc.owner, tc.repo)
			}
		})
	}
}
