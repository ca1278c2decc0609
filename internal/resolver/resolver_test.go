package resolver

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/patchstorm/patchstorm/internal/domain"
	"github.com/patchstorm/patchstorm/internal/githost"
)

type fakeHost struct {
	results []domain.RepoID
	err     error
	queries []string
}

func (f *fakeHost) SearchRepos(ctx context.Context, query string) ([]domain.RepoID, error) {
	f.queries = append(f.queries, query)
	return f.results, f.err
}

func (f *fakeHost) FindOpenPR(ctx context.Context, repo domain.RepoID, branch string) (*githost.PullRequest, error) {
	return nil, nil
}

func (f *fakeHost) CreatePR(ctx context.Context, repo domain.RepoID, opts githost.PROptions) (*githost.PullRequest, error) {
	return nil, nil
}

func (f *fakeHost) UpdatePR(ctx context.Context, repo domain.RepoID, number int, title, body string) error {
	return nil
}

func repo(s string) domain.RepoID {
	r, err := domain.ParseRepoID(s)
	if err != nil {
		panic(err)
	}
	return r
}

func names(repos []domain.RepoID) []string {
	var out []string
	for _, r := range repos {
		out = append(out, r.String())
	}
	return out
}

func TestResolveIncludeOnly(t *testing.T) {
	r := New(&fakeHost{})
	got, err := r.Resolve(context.Background(), domain.RepoSelector{
		Include: []domain.RepoID{repo("org/a"), repo("org/b"), repo("org/a")},
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !reflect.DeepEqual(names(got), []string{"org/a", "org/b"}) {
		t.Errorf("got %v", names(got))
	}
}

func TestResolveUnionOrder(t *testing.T) {
	host := &fakeHost{results: []domain.RepoID{repo("org/b"), repo("org/c"), repo("org/d")}}
	r := New(host)
	got, err := r.Resolve(context.Background(), domain.RepoSelector{
		Include:     []domain.RepoID{repo("org/a"), repo("org/b")},
		SearchQuery: "language:YAML",
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	// include order first, then search order, duplicates skipped
	if !reflect.DeepEqual(names(got), []string{"org/a", "org/b", "org/c", "org/d"}) {
		t.Errorf("got %v", names(got))
	}
	if len(host.queries) != 1 || host.queries[0] != "language:YAML" {
		t.Errorf("queries = %v", host.queries)
	}
}

func TestResolveExclude(t *testing.T) {
	host := &fakeHost{results: []domain.RepoID{repo("org/c"), repo("org/d")}}
	r := New(host)
	got, err := r.Resolve(context.Background(), domain.RepoSelector{
		Include:     []domain.RepoID{repo("org/a"), repo("org/b")},
		Exclude:     []domain.RepoID{repo("org/b"), repo("org/d")},
		SearchQuery: "q",
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !reflect.DeepEqual(names(got), []string{"org/a", "org/c"}) {
		t.Errorf("got %v", names(got))
	}
}

func TestResolveSearchFailureFailsResolution(t *testing.T) {
	host := &fakeHost{err: errors.New("rate limited")}
	r := New(host)
	_, err := r.Resolve(context.Background(), domain.RepoSelector{
		Include:     []domain.RepoID{repo("org/a")},
		SearchQuery: "q",
	})
	if err == nil {
		t.Fatal("expected resolution error when search fails")
	}
}

func TestResolveEmptySelectorIsValid(t *testing.T) {
	r := New(&fakeHost{})
	got, err := r.Resolve(context.Background(), domain.RepoSelector{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %v, want empty", names(got))
	}
}

func TestResolveDeterministic(t *testing.T) {
	host := &fakeHost{results: []domain.RepoID{repo("org/c"), repo("org/b")}}
	r := New(host)
	sel := domain.RepoSelector{
		Include:     []domain.RepoID{repo("org/a")},
		SearchQuery: "q",
	}
	first, err := r.Resolve(context.Background(), sel)
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.Resolve(context.Background(), sel)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(names(first), names(second)) {
		t.Errorf("resolution not deterministic: %v vs %v", names(first), names(second))
	}
}
