package domain

import "testing"

func TestParseRepoID(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"myorg/myrepo", "myorg/myrepo", false},
		{"MyOrg/MyRepo", "myorg/myrepo", false},
		{" myorg/myrepo ", "myorg/myrepo", false},
		{"myrepo", "", true},
		{"a/b/c", "", true},
		{"/myrepo", "", true},
		{"myorg/", "", true},
	}

	for _, tt := range tests {
		got, err := ParseRepoID(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseRepoID(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseRepoID(%q) error: %v", tt.in, err)
			continue
		}
		if got.String() != tt.want {
			t.Errorf("ParseRepoID(%q) = %s, want %s", tt.in, got.String(), tt.want)
		}
	}
}

func TestParseRepoList(t *testing.T) {
	repos, err := ParseRepoList("org/a, org/b ,,org/c")
	if err != nil {
		t.Fatalf("ParseRepoList: %v", err)
	}
	if len(repos) != 3 {
		t.Fatalf("got %d repos, want 3", len(repos))
	}
	if repos[1].String() != "org/b" {
		t.Errorf("repos[1] = %s, want org/b", repos[1])
	}
}

func TestTaskDefinitionValidate(t *testing.T) {
	valid := TaskDefinition{
		Provider:      ProviderClaudeCode,
		CommitMessage: "bump version",
		Prompts:       []string{"bump version to 1.2.3"},
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid definition rejected: %v", err)
	}

	noPrompts := valid
	noPrompts.Prompts = nil
	if err := noPrompts.Validate(); err == nil {
		t.Error("expected error for missing prompts")
	}

	badProvider := valid
	badProvider.Provider = "gpt9"
	if err := badProvider.Validate(); err == nil {
		t.Error("expected error for unknown provider")
	}

	codexMulti := valid
	codexMulti.Provider = ProviderCodex
	codexMulti.Prompts = []string{"one", "two"}
	if err := codexMulti.Validate(); err == nil {
		t.Error("expected error for multi-prompt codex task")
	}

	noMsg := valid
	noMsg.CommitMessage = ""
	if err := noMsg.Validate(); err == nil {
		t.Error("expected error for missing commit message")
	}
	noMsg.SkipPR = true
	if err := noMsg.Validate(); err != nil {
		t.Errorf("skip-pr task should not require commit message: %v", err)
	}
}

func TestTaskDefinitionHashStable(t *testing.T) {
	def := TaskDefinition{
		Provider:      ProviderClaudeCode,
		CommitMessage: "chore: update CI",
		Prompts:       []string{"update the CI config"},
		Selector: RepoSelector{
			Include: []RepoID{{Owner: "org", Name: "a"}},
		},
	}
	if def.Hash() != def.Hash() {
		t.Error("hash not deterministic")
	}

	other := def
	other.Prompts = []string{"update the CI config", "fix tests"}
	if def.Hash() == other.Hash() {
		t.Error("different prompts should produce different hashes")
	}
}

func TestJobKeyDistinctPerRepo(t *testing.T) {
	def := TaskDefinition{
		Provider:      ProviderClaudeCode,
		CommitMessage: "chore: update CI",
		Prompts:       []string{"update the CI config"},
	}
	a := def.JobKey(RepoID{Owner: "org", Name: "a"})
	b := def.JobKey(RepoID{Owner: "org", Name: "b"})
	if a == b {
		t.Error("job keys for different repos must differ")
	}
	if a != def.JobKey(RepoID{Owner: "org", Name: "a"}) {
		t.Error("job key not deterministic")
	}
}
