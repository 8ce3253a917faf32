package lookup

// Stage is a step of the resolution state machine.
type Stage string

const (
	StageNormalized     Stage = "NORMALIZED"
	StageGoldenCheck    Stage = "GOLDEN_CHECK"
	StageCacheCheck     Stage = "CACHE_CHECK"
	StageStoreCheck     Stage = "STORE_CHECK"
	StageGeocoding      Stage = "GEOCODING"
	StageScored         Stage = "SCORED"
	StagePersisted      Stage = "PERSISTED"
	StageReviewEnqueued Stage = "REVIEW_ENQUEUED"
	StageDone           Stage = "DONE"
)
