package script

// DefaultConversation is the scripted banking dialogue replayed by the
// playback driver. The rows are fixed at build time and never mutated;
// delays are relative to the completion of the preceding turn.
func DefaultConversation() []Turn {
	return []Turn{
		{Speaker: SpeakerAI, Text: "Hello! Thank you for calling Meridian Bank. I'm Ava, your virtual assistant. How can I help you today?", Sentiment: SentimentNeutral, InterTurnDelayMs: 1000},
		{Speaker: SpeakerCustomer, Text: "Hi, I noticed a charge on my account that I don't recognize. It's for 249 dollars from yesterday.", Sentiment: SentimentNegative, InterTurnDelayMs: 3000},
		{Speaker: SpeakerAI, Text: "I'm sorry to hear that. Let me pull up your recent transactions right away. One moment please.", Sentiment: SentimentNeutral, InterTurnDelayMs: 2500},
		{Speaker: SpeakerAI, Text: "I can see the charge you mentioned: 249 dollars at TechGear Online, posted yesterday at 3:42 PM. Does that merchant sound familiar at all?", Sentiment: SentimentNeutral, InterTurnDelayMs: 2000},
		{Speaker: SpeakerCustomer, Text: "No, I've never shopped there. I think my card might be compromised.", Sentiment: SentimentNegative, InterTurnDelayMs: 3500},
		{Speaker: SpeakerAI, Text: "I understand your concern, and we'll take care of this together. I've temporarily locked your card to prevent any further charges. Nothing else looks unusual on the account.", Sentiment: SentimentPositive, InterTurnDelayMs: 2500},
		{Speaker: SpeakerCustomer, Text: "Okay, that's a relief. What happens with the 249 dollars?", Sentiment: SentimentNeutral, InterTurnDelayMs: 3000},
		{Speaker: SpeakerAI, Text: "I've opened a dispute for the charge. You'll receive a provisional credit within 2 business days while we investigate, and a replacement card will arrive in 5 to 7 business days.", Sentiment: SentimentPositive, InterTurnDelayMs: 2500},
		{Speaker: SpeakerCustomer, Text: "That was easier than I expected. Thank you so much for the help!", Sentiment: SentimentPositive, InterTurnDelayMs: 3500},
		{Speaker: SpeakerAI, Text: "You're very welcome! Your dispute reference number is DR-88412, and I've sent a summary to your email on file. Is there anything else I can help you with today?", Sentiment: SentimentPositive, InterTurnDelayMs: 2000},
		{Speaker: SpeakerCustomer, Text: "No, that's everything. Thanks again!", Sentiment: SentimentPositive, InterTurnDelayMs: 3000},
	}
}

// DefaultSentimentTimeline is the fixed sentiment/emotion script consumed by
// the tracker, one snapshot per tick.
func DefaultSentimentTimeline() []SentimentSnapshot {
	return []SentimentSnapshot{
		{OffsetLabel: "0:00", Score: 52, EmotionTags: []string{"calm"}, Label: SentimentNeutral, Confidence: 71},
		{OffsetLabel: "0:04", Score: 48, EmotionTags: []string{"curious", "calm"}, Label: SentimentNeutral, Confidence: 74},
		{OffsetLabel: "0:08", Score: 34, EmotionTags: []string{"worried", "confused"}, Label: SentimentNegative, Confidence: 82},
		{OffsetLabel: "0:12", Score: 27, EmotionTags: []string{"frustrated", "worried", "anxious"}, Label: SentimentNegative, Confidence: 88},
		{OffsetLabel: "0:16", Score: 31, EmotionTags: []string{"anxious", "worried"}, Label: SentimentNegative, Confidence: 85},
		{OffsetLabel: "0:20", Score: 44, EmotionTags: []string{"attentive", "hopeful"}, Label: SentimentNeutral, Confidence: 76},
		{OffsetLabel: "0:24", Score: 58, EmotionTags: []string{"relieved", "hopeful"}, Label: SentimentNeutral, Confidence: 79},
		{OffsetLabel: "0:28", Score: 66, EmotionTags: []string{"relieved", "satisfied"}, Label: SentimentPositive, Confidence: 83},
		{OffsetLabel: "0:32", Score: 74, EmotionTags: []string{"satisfied", "grateful", "relieved"}, Label: SentimentPositive, Confidence: 87},
		{OffsetLabel: "0:36", Score: 81, EmotionTags: []string{"grateful", "happy"}, Label: SentimentPositive, Confidence: 90},
		{OffsetLabel: "0:40", Score: 85, EmotionTags: []string{"happy", "grateful", "satisfied"}, Label: SentimentPositive, Confidence: 92},
	}
}

// DefaultEmotionPool pads snapshot tag lists up to the display capacity
// without duplicating authored tags.
func DefaultEmotionPool() []string {
	return []string{"calm", "attentive", "curious", "patient"}
}
