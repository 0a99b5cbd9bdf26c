package expand

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "can": true, "had": true,
	"has": true, "have": true, "was": true, "were": true, "what": true,
	"when": true, "where": true, "which": true, "with": true, "who": true,
	"whom": true, "why": true, "how": true, "this": true, "that": true,
	"these": true, "those": true, "they": true, "them": true, "their": true,
	"there": true, "here": true, "from": true, "into": true, "about": true,
	"would": true, "could": true, "should": true, "does": true, "doing": true,
	"some": true, "such": true, "than": true, "then": true,
	"your": true, "yours": true, "our": true, "ours": true, "its": true,
	"his": true, "her": true, "hers": true, "him": true, "she": true,
	"out": true, "off": true, "over": true, "under": true, "again": true,
	"more": true, "most": true, "other": true, "own": true, "same": true,
	"very": true, "just": true, "too": true, "any": true, "each": true,
	"few": true, "both": true, "between": true, "during": true, "before": true,
	"after": true, "above": true, "below": true, "because": true, "until": true,
	"while": true, "will": true, "being": true, "been": true, "also": true,
	"people": true, "things": true, "something": true, "anything": true,
	"way": true, "ways": true, "get": true, "got": true, "like": true,
	"make": true, "making": true, "use": true, "using": true, "need": true,
	"want": true, "find": true, "finding": true, "biggest": true, "main": true,
	"currently": true, "current": true, "really": true, "actually": true,
}

func isStopWord(word string) bool {
	return stopWords[word]
}
