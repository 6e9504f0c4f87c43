package adapter

// Mentions is the distilled result of scanning one answer.
type Mentions struct {
	BrandMentioned     bool
	CompetitorMentions int
}

// BrandExtractor finds brand and competitor mentions in a provider answer.
// The real extraction heuristics live outside this service; the default
// implementation is a plain keyword scan.
type BrandExtractor interface {
	Extract(answer, brand string, competitors []string) Mentions
}
