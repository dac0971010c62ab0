package domain

// DropReason is the closed set of reasons a candidate leaves the pipeline.
type DropReason string

const (
	DropEmptyText        DropReason = "empty_text"
	DropTooLong          DropReason = "too_long"
	DropOffTopic         DropReason = "off_topic"
	DropTone             DropReason = "tone"
	DropInactiveCategory DropReason = "category_not_active"
	DropCategoryCap      DropReason = "category_cap"
	DropTravelHackCap    DropReason = "travel_hack_cap"
	DropDocumentTip      DropReason = "document_tip"
	DropCompliance       DropReason = "compliance"
	DropNoConcreteDetail DropReason = "no_concrete_detail"
	DropBucketUnresolved DropReason = "bucket_unresolved"
	DropBucketRepeated   DropReason = "bucket_repeated"
	DropBucketHistory    DropReason = "bucket_history"
	DropHashtag          DropReason = "hashtag"
	DropPromo            DropReason = "promo"
	DropQuota            DropReason = "quota"
	DropSimilar          DropReason = "similar"
	DropOverTarget       DropReason = "over_target"
	DropDuplicateBucket  DropReason = "duplicate_bucket"
	DropDuplicateCat     DropReason = "duplicate_category"
)

// Drop records one rejected candidate.
type Drop struct {
	Candidate Candidate
	Reason    DropReason
	// Detail names the rule that fired, for example a quota or bucket name.
	Detail string
}

// CountDrops groups drops by reason.
func CountDrops(drops []Drop) map[DropReason]int {
	counts := make(map[DropReason]int)
	for _, d := range drops {
		counts[d.Reason]++
	}
	return counts
}
