package dagsearch

// LanguageModel is the capability resolved once at engine construction: an
// optional n-gram scorer that rescores transitions by word. Its internal
// state representation and the actual n-gram model loading are out of
// scope for this package — it treats the model as an opaque collaborator.
type LanguageModel interface {
	// BeginSentence returns the initial opaque state for a new root node.
	BeginSentence() any

	// Score advances prev by lmWord, returning the incremental log-score
	// and the new opaque state to store on the child node.
	Score(prev any, lmWord int32) (score float64, next any)

	// VocabularyIndex resolves a surface word string to the LM's internal
	// vocabulary id. Kept on the adapter interface so a real n-gram scorer
	// can be plugged in without a signature change, even though no
	// concrete implementation ships here.
	VocabularyIndex(word string) int32
}

// NullLM is the degrade-silently default used when no language model is
// configured or when the configured one fails to load: every transition
// scores 0, and searches proceed exactly as if no LM were ever wired in.
type NullLM struct{}

func (NullLM) BeginSentence() any { return nil }

func (NullLM) Score(prev any, lmWord int32) (float64, any) { return 0, nil }

func (NullLM) VocabularyIndex(word string) int32 { return -1 }
