package model

type GenerationMethod string

const (
	GenerationMethodVector GenerationMethod = "vector"
	GenerationMethodText   GenerationMethod = "text"
)

type Cluster struct {
	ID               string           `json:"id"`
	Topic            string           `json:"topic"`
	Summary          string           `json:"summary"`
	ArticleIDs       []string         `json:"article_ids"`
	Sources          []string         `json:"sources"`
	MemberCount      int              `json:"member_count"`
	SourceCount      int              `json:"source_count"`
	AvgSimilarity    float64          `json:"avg_similarity"`
	RelevanceScore   int              `json:"relevance_score"`
	GenerationMethod GenerationMethod `json:"generation_method"`
	CreatedAt        int64            `json:"created_at"`
	ExpiresAt        int64            `json:"expires_at"`
}

type ClusteringRun struct {
	ID                 string           `json:"id"`
	StartedAt          int64            `json:"started_at"`
	FinishedAt         int64            `json:"finished_at"`
	ClustersCreated    int              `json:"clusters_created"`
	ArticlesConsidered int              `json:"articles_considered"`
	Method             GenerationMethod `json:"method"`
}
