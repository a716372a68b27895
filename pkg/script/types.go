package script

// Speaker identifies who utters a scripted turn.
type Speaker string

const (
	SpeakerCustomer Speaker = "customer"
	SpeakerAI       Speaker = "ai"
)

// SentimentLabel is the coarse sentiment classification attached to turns
// and sentiment snapshots.
type SentimentLabel string

const (
	SentimentPositive SentimentLabel = "positive"
	SentimentNeutral  SentimentLabel = "neutral"
	SentimentNegative SentimentLabel = "negative"
)

// Valid reports whether the label is one of the three known values.
func (l SentimentLabel) Valid() bool {
	switch l {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
		return true
	}
	return false
}

// Turn is one scripted utterance. Turns are immutable and consumed
// sequentially by index; InterTurnDelayMs is measured from the full
// completion of the previous turn (or from driver start for the first).
type Turn struct {
	Speaker          Speaker        `json:"speaker"`
	Text             string         `json:"text"`
	Sentiment        SentimentLabel `json:"sentiment,omitempty"`
	InterTurnDelayMs int            `json:"inter_turn_delay_ms"`
}

// SentimentSnapshot is one point in the fixed sentiment/emotion script,
// consumed by the tracker's independent cursor.
type SentimentSnapshot struct {
	OffsetLabel string         `json:"offset_label"`
	Score       int            `json:"score"`
	EmotionTags []string       `json:"emotion_tags"`
	Label       SentimentLabel `json:"label"`
	Confidence  int            `json:"confidence"`
}
