package model

// Subject facts. Each is attached to a run at most once and upserted by
// its natural key, so re-attaching the same entity is idempotent.

// Repository is the source repository a run is based on.
// Upsert key: ID (the upstream platform's numeric repository id).
type Repository struct {
	ID             int64  `json:"id"`
	FullName       string `json:"full_name"`
	Owner          string `json:"owner"`
	Name           string `json:"name"`
	DefaultBranch  string `json:"default_branch,omitempty"`
	Visibility     string `json:"visibility,omitempty"`
	HasIssues      bool   `json:"has_issues"`
	InstallationID int64  `json:"installation_id,omitempty"`
}

// Issue is the issue a run is based on.
// Upsert key: (Number, RepoFullName).
type Issue struct {
	Number       int    `json:"number"`
	RepoFullName string `json:"repo_full_name"`
}

// Commit is the commit a run is based on. Also linked to its repository
// when the repository is known. Upsert key: SHA.
type Commit struct {
	SHA       string `json:"sha"`
	Message   string `json:"message,omitempty"`
	TreeSHA   string `json:"tree_sha,omitempty"`
	Author    string `json:"author,omitempty"`
	Committer string `json:"committer,omitempty"`
}
